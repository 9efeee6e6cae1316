// Package errors provides the error taxonomy of the trading engine.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Typed errors below match them through errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientShares  = errors.New("insufficient shares")
	ErrInvalidState        = errors.New("invalid state")
)

// ValidationError represents malformed stock or order parameters.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NotFoundError is returned when a referenced stock, holding or order does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// InsufficientBalanceError is returned when a fill cannot be margin-covered.
type InsufficientBalanceError struct {
	Required  float64
	Available float64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %.2f, available %.2f", e.Required, e.Available)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

func NewInsufficientBalanceError(required, available float64) *InsufficientBalanceError {
	return &InsufficientBalanceError{Required: required, Available: available}
}

// InsufficientSharesError is returned when a buy exceeds a stock's available shares.
type InsufficientSharesError struct {
	StockID   string
	Requested int
	Available int
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("insufficient shares of %s: requested %d, available %d", e.StockID, e.Requested, e.Available)
}

func (e *InsufficientSharesError) Is(target error) bool {
	return target == ErrInsufficientShares
}

func NewInsufficientSharesError(stockID string, requested, available int) *InsufficientSharesError {
	return &InsufficientSharesError{StockID: stockID, Requested: requested, Available: available}
}

// InvalidStateError is a soft failure: the entity exists but its state forbids the operation.
type InvalidStateError struct {
	Entity    string
	ID        string
	State     string
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in state %s", e.Operation, e.Entity, e.ID, e.State)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

func NewInvalidStateError(entity, id, state, operation string) *InvalidStateError {
	return &InvalidStateError{Entity: entity, ID: id, State: state, Operation: operation}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
