package model

import "github.com/shopspring/decimal"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order is a limit order on one outcome token of a market.
type Order struct {
	MarketID string          `json:"market_id"`
	Side     Side            `json:"side"`
	Size     decimal.Decimal `json:"size"`
	Price    decimal.Decimal `json:"price"`
	PostOnly bool            `json:"post_only"`
}

type OrderStatus string

const (
	OrderLive      OrderStatus = "LIVE"
	OrderMatched   OrderStatus = "MATCHED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderUnknown   OrderStatus = "UNKNOWN"
)
