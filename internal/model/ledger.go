package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type RebalanceDirection string

const (
	RebalanceNone      RebalanceDirection = ""
	RebalanceHotToCold RebalanceDirection = "hot_to_cold"
	RebalanceColdToHot RebalanceDirection = "cold_to_hot"
)

// LedgerSnapshot is the persisted and wire form of a capital allocation.
type LedgerSnapshot struct {
	Total     decimal.Decimal `json:"total_balance"`
	Hot       decimal.Decimal `json:"hot_balance"`
	Cold      decimal.Decimal `json:"cold_balance"`
	HotRatio  decimal.Decimal `json:"hot_ratio"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type RebalancePlan struct {
	Amount    decimal.Decimal    `json:"amount"`
	Direction RebalanceDirection `json:"direction"`
}
