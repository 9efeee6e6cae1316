package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "trading-engine/internal/errors"
	"trading-engine/internal/models"
	"trading-engine/internal/services"
)

const defaultPageSize = 20

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case apperrors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest
	case apperrors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case apperrors.Is(err, apperrors.ErrInsufficientBalance),
		apperrors.Is(err, apperrors.ErrInsufficientShares):
		return http.StatusUnprocessableEntity
	case apperrors.Is(err, apperrors.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, services.ErrNotRunning),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// respondOrderError also returns the order when the failure left a record
// behind, e.g. an order cancelled for lack of funds.
func respondOrderError(c *gin.Context, order models.Order, err error) {
	if order.ID == "" {
		respondError(c, err)
		return
	}
	c.JSON(statusFor(err), gin.H{"error": err.Error(), "order": order})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
}

// pageParams reads ?page= and ?limit=, falling back to the first page of
// defaultPageSize items.
func pageParams(c *gin.Context) (int, int, error) {
	page, limit := 1, defaultPageSize
	if raw := c.Query("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return 0, 0, apperrors.NewValidationError("page", raw, "must be a positive integer")
		}
		page = n
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			return 0, 0, apperrors.NewValidationError("limit", raw, "must be between 1 and 100")
		}
		limit = n
	}
	return page, limit, nil
}

type pageResponse[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func paginate[T any](c *gin.Context, items []T) {
	page, limit, err := pageParams(c)
	if err != nil {
		respondError(c, err)
		return
	}
	slice, totalPages := services.Page(items, page, limit)
	c.JSON(http.StatusOK, pageResponse[T]{
		Items:      slice,
		Page:       page,
		Limit:      limit,
		Total:      len(items),
		TotalPages: totalPages,
	})
}
