package models

import (
	"time"

	"github.com/google/uuid"
)

// MinPrice is the floor applied to every simulated price.
const MinPrice = 0.01

// MinTotalShares is the smallest share supply a stock can be created with.
const MinTotalShares = 100

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type PricePoint struct {
	Timestamp int64   `bson:"timestamp" json:"timestamp"`
	Price     float64 `bson:"price" json:"price"`
}

type VolumePoint struct {
	Timestamp int64 `bson:"timestamp" json:"timestamp"`
	Volume    int   `bson:"volume" json:"volume"`
	Type      Side  `bson:"type" json:"type"`
}

type Stock struct {
	ID              string        `bson:"id" json:"id"`
	Name            string        `bson:"name" json:"name"`
	InitialValue    float64       `bson:"initialValue" json:"initialValue"`
	CurrentValue    float64       `bson:"currentValue" json:"currentValue"`
	TotalShares     int           `bson:"totalShares" json:"totalShares"`
	AvailableShares int           `bson:"availableShares" json:"availableShares"`
	PriceEvolution  float64       `bson:"priceEvolution" json:"priceEvolution"`
	History         []PricePoint  `bson:"history" json:"history"`
	Volume          []VolumePoint `bson:"volume" json:"volume"`
}

// Clone returns a deep copy so snapshots never alias live state.
func (s Stock) Clone() Stock {
	s.History = append(make([]PricePoint, 0, len(s.History)), s.History...)
	s.Volume = append(make([]VolumePoint, 0, len(s.Volume)), s.Volume...)
	return s
}

// ChangePercent is the move of the current price relative to the initial value.
func (s Stock) ChangePercent() float64 {
	if s.InitialValue == 0 {
		return 0
	}
	return (s.CurrentValue - s.InitialValue) / s.InitialValue * 100
}

// NewID returns a random identifier for any persisted record.
func NewID() string {
	return uuid.NewString()
}

// Millis converts t to the epoch-millisecond timestamps used in persisted state.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
