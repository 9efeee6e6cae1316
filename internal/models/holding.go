package models

type HoldingStatus string

const (
	HoldingOpen   HoldingStatus = "open"
	HoldingClosed HoldingStatus = "closed"
)

type PositionType string

const (
	PositionLong  PositionType = "long"
	PositionShort PositionType = "short"
)

// PositionFor returns the direction a fresh position takes when opened by side.
func PositionFor(side Side) PositionType {
	if side == SideBuy {
		return PositionLong
	}
	return PositionShort
}

// ClosingSide is the order side that reduces a position of type p.
func (p PositionType) ClosingSide() Side {
	if p == PositionLong {
		return SideSell
	}
	return SideBuy
}

// Holding is the user's net exposure to one stock. Quantity is always
// positive; direction lives in PositionType.
type Holding struct {
	ID                string        `bson:"id" json:"id"`
	StockID           string        `bson:"stockId" json:"stockId"`
	Symbol            string        `bson:"symbol" json:"symbol"`
	Status            HoldingStatus `bson:"status" json:"status"`
	PositionType      PositionType  `bson:"holdingType" json:"holdingType"`
	Quantity          int           `bson:"quantity" json:"quantity"`
	AverageEntryPrice float64       `bson:"averageEntryPrice" json:"averageEntryPrice"`
	AverageExitPrice  *float64      `bson:"averageExitPrice,omitempty" json:"averageExitPrice,omitempty"`
	UnrealizedPnL     float64       `bson:"unrealizedPnL" json:"unrealizedPnL"`
	RealizedPnL       float64       `bson:"realizedPnL" json:"realizedPnL"`
	StopLossPrice     *float64      `bson:"stopLossPrice,omitempty" json:"stopLossPrice,omitempty"`
	TakeProfitPrice   *float64      `bson:"takeProfitPrice,omitempty" json:"takeProfitPrice,omitempty"`
	Leverage          float64       `bson:"leverage" json:"leverage"`
	MarginUsed        float64       `bson:"marginUsed" json:"marginUsed"`
	CreatedAt         int64         `bson:"createdAt" json:"createdAt"`
	UpdatedAt         int64         `bson:"updatedAt" json:"updatedAt"`
	ClosedAt          *int64        `bson:"closedAt,omitempty" json:"closedAt,omitempty"`
}

func (h *Holding) IsOpen() bool {
	return h.Status == HoldingOpen
}

// PnLAt is the mark-to-market P&L of the holding at price.
func (h *Holding) PnLAt(price float64) float64 {
	if h.PositionType == PositionLong {
		return (price - h.AverageEntryPrice) * float64(h.Quantity)
	}
	return (h.AverageEntryPrice - price) * float64(h.Quantity)
}

// HoldingHistory is the archived record of a closed holding.
type HoldingHistory struct {
	HoldingID         string       `bson:"holdingId" json:"holdingId"`
	StockID           string       `bson:"stockId" json:"stockId"`
	Symbol            string       `bson:"symbol" json:"symbol"`
	PositionType      PositionType `bson:"holdingType" json:"holdingType"`
	Quantity          int          `bson:"quantity" json:"quantity"`
	AverageEntryPrice float64      `bson:"averageEntryPrice" json:"averageEntryPrice"`
	AverageExitPrice  float64      `bson:"averageExitPrice" json:"averageExitPrice"`
	RealizedPnL       float64      `bson:"realizedPnL" json:"realizedPnL"`
	Leverage          float64      `bson:"leverage" json:"leverage"`
	MarginUsed        float64      `bson:"marginUsed" json:"marginUsed"`
	CreatedAt         int64        `bson:"createdAt" json:"createdAt"`
	ClosedAt          int64        `bson:"closedAt" json:"closedAt"`
}
