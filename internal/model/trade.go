package model

import "github.com/shopspring/decimal"

// TradeRequest is what a strategy hands the risk gate before placing a trade.
type TradeRequest struct {
	BotID          int             `json:"bot_id" binding:"required"`
	Zone           Zone            `json:"zone" binding:"required"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	PortfolioPeak  decimal.Decimal `json:"portfolio_peak"`
	Amount         decimal.Decimal `json:"amount"` // capital drawn from the hot wallet; zero skips the capital check
}

// TradeResult 平仓后回传的已实现盈亏
type TradeResult struct {
	BotID    int             `json:"bot_id" binding:"required"`
	PnL      decimal.Decimal `json:"pnl"`
	Proceeds decimal.Decimal `json:"proceeds"` // returned to the hot wallet when positive
}

// IsWin counts only strictly positive P&L as a win; break-even is a loss.
func (r TradeResult) IsWin() bool {
	return r.PnL.IsPositive()
}

// BotMetricsUpdate carries externally computed daily P&L and drawdown.
type BotMetricsUpdate struct {
	DailyPnLPct    *decimal.Decimal `json:"daily_pnl_pct,omitempty"`
	BotDrawdownPct *decimal.Decimal `json:"bot_drawdown_pct,omitempty"`
}
