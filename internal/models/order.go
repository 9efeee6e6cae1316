package models

import "fmt"

type OrderType string

const (
	OrderTypeBuy        OrderType = "buy"
	OrderTypeSell       OrderType = "sell"
	OrderTypeStopLoss   OrderType = "stoploss"
	OrderTypeTakeProfit OrderType = "take_profit"
)

type ExecutionType string

const (
	ExecutionMarket ExecutionType = "market"
	ExecutionLimit  ExecutionType = "limit"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderOpen      OrderStatus = "open"
	OrderExecuted  OrderStatus = "executed"
	OrderCancelled OrderStatus = "cancelled"
	OrderTriggered OrderStatus = "triggered"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderExecuted || s == OrderCancelled
}

// IsCancellable reports whether a user may cancel an order in state s.
func (s OrderStatus) IsCancellable() bool {
	return s == OrderPending || s == OrderOpen
}

// Order is the persisted order record. Its flat shape matches stored state;
// use Spec to get the typed variant.
type Order struct {
	ID              string        `bson:"id" json:"id"`
	StockID         string        `bson:"stockId" json:"stockId"`
	Symbol          string        `bson:"symbol" json:"symbol"`
	OrderType       OrderType     `bson:"orderType" json:"orderType"`
	ExecutionType   ExecutionType `bson:"executionType" json:"executionType"`
	Status          OrderStatus   `bson:"status" json:"status"`
	Quantity        int           `bson:"quantity" json:"quantity"`
	LimitPrice      *float64      `bson:"limitPrice,omitempty" json:"limitPrice,omitempty"`
	StopPrice       *float64      `bson:"stopPrice,omitempty" json:"stopPrice,omitempty"`
	TakeProfitPrice *float64      `bson:"takeProfitPrice,omitempty" json:"takeProfitPrice,omitempty"`
	Leverage        float64       `bson:"leverage,omitempty" json:"leverage,omitempty"`
	CreatedAt       int64         `bson:"createdAt" json:"createdAt"`
	UpdatedAt       int64         `bson:"updatedAt" json:"updatedAt"`
	ExecutedAt      *int64        `bson:"executedAt,omitempty" json:"executedAt,omitempty"`
	ExecutedPrice   *float64      `bson:"executedPrice,omitempty" json:"executedPrice,omitempty"`
	HoldingID       string        `bson:"holdingId,omitempty" json:"holdingId,omitempty"`
}

// OrderSpec is one of MarketOrder, LimitOrder, StopLossOrder or TakeProfitOrder.
type OrderSpec interface {
	orderType() OrderType
	executionType() ExecutionType
	quantity() int
}

type MarketOrder struct {
	Side     Side
	Quantity int
}

type LimitOrder struct {
	Side       Side
	Quantity   int
	LimitPrice float64
}

type StopLossOrder struct {
	HoldingID string
	Quantity  int
	StopPrice float64
}

type TakeProfitOrder struct {
	HoldingID       string
	Quantity        int
	TakeProfitPrice float64
}

func (o MarketOrder) orderType() OrderType         { return OrderType(o.Side) }
func (o MarketOrder) executionType() ExecutionType { return ExecutionMarket }
func (o MarketOrder) quantity() int                { return o.Quantity }

func (o LimitOrder) orderType() OrderType         { return OrderType(o.Side) }
func (o LimitOrder) executionType() ExecutionType { return ExecutionLimit }
func (o LimitOrder) quantity() int                { return o.Quantity }

func (o StopLossOrder) orderType() OrderType         { return OrderTypeStopLoss }
func (o StopLossOrder) executionType() ExecutionType { return ExecutionMarket }
func (o StopLossOrder) quantity() int                { return o.Quantity }

func (o TakeProfitOrder) orderType() OrderType         { return OrderTypeTakeProfit }
func (o TakeProfitOrder) executionType() ExecutionType { return ExecutionMarket }
func (o TakeProfitOrder) quantity() int                { return o.Quantity }

// NewOrder builds a persisted record for spec in the given status.
func NewOrder(stock *Stock, spec OrderSpec, leverage float64, status OrderStatus, now int64) *Order {
	o := &Order{
		ID:            NewID(),
		StockID:       stock.ID,
		Symbol:        stock.Name,
		OrderType:     spec.orderType(),
		ExecutionType: spec.executionType(),
		Status:        status,
		Quantity:      spec.quantity(),
		Leverage:      leverage,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	switch s := spec.(type) {
	case LimitOrder:
		o.LimitPrice = Float(s.LimitPrice)
	case StopLossOrder:
		o.StopPrice = Float(s.StopPrice)
		o.HoldingID = s.HoldingID
	case TakeProfitOrder:
		o.TakeProfitPrice = Float(s.TakeProfitPrice)
		o.HoldingID = s.HoldingID
	}
	return o
}

// Spec decodes the record into its typed variant.
func (o *Order) Spec() (OrderSpec, error) {
	switch o.OrderType {
	case OrderTypeBuy, OrderTypeSell:
		side := Side(o.OrderType)
		if o.ExecutionType == ExecutionLimit {
			if o.LimitPrice == nil {
				return nil, fmt.Errorf("limit order %s has no limit price", o.ID)
			}
			return LimitOrder{Side: side, Quantity: o.Quantity, LimitPrice: *o.LimitPrice}, nil
		}
		return MarketOrder{Side: side, Quantity: o.Quantity}, nil
	case OrderTypeStopLoss:
		if o.StopPrice == nil {
			return nil, fmt.Errorf("stop-loss order %s has no stop price", o.ID)
		}
		return StopLossOrder{HoldingID: o.HoldingID, Quantity: o.Quantity, StopPrice: *o.StopPrice}, nil
	case OrderTypeTakeProfit:
		if o.TakeProfitPrice == nil {
			return nil, fmt.Errorf("take-profit order %s has no target price", o.ID)
		}
		return TakeProfitOrder{HoldingID: o.HoldingID, Quantity: o.Quantity, TakeProfitPrice: *o.TakeProfitPrice}, nil
	}
	return nil, fmt.Errorf("unknown order type %q", o.OrderType)
}

// Float returns a pointer to v for optional fields.
func Float(v float64) *float64 {
	return &v
}

// Int64 returns a pointer to v for optional fields.
func Int64(v int64) *int64 {
	return &v
}
