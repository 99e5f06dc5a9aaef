package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Zone 交易风险分区 (1-5)，4/5 为方向性高风险区
type Zone int

// Valid reports whether z is inside the classified 1-5 range. Invalid zones are
// not an error for the breaker; they simply fall outside the safe set.
func (z Zone) Valid() bool {
	return z >= 1 && z <= 5
}

// ReasonCode is the machine-readable tag attached to every denial.
type ReasonCode string

const (
	ReasonNone                ReasonCode = ""
	ReasonConsecutiveLosses   ReasonCode = "consecutive_losses"
	ReasonDailyLoss           ReasonCode = "daily_loss"
	ReasonBotDrawdown         ReasonCode = "bot_drawdown"
	ReasonPortfolioDrawdown   ReasonCode = "portfolio_drawdown"
	ReasonZoneBlocked         ReasonCode = "zone_blocked"
	ReasonBotStopped          ReasonCode = "bot_stopped"
	ReasonEmergencyStop       ReasonCode = "emergency_stop"
	ReasonInsufficientCapital ReasonCode = "insufficient_capital"
)

// IsEmergency reports whether a denial with this code halts every bot.
func (c ReasonCode) IsEmergency() bool {
	return c == ReasonPortfolioDrawdown
}

// Verdict is the outcome of a pre-trade check. A denial is a value, not an error.
type Verdict struct {
	Allowed bool       `json:"allowed"`
	Code    ReasonCode `json:"code,omitempty"`
	Reason  string     `json:"reason,omitempty"`
}

func Allow() Verdict {
	return Verdict{Allowed: true}
}

func Deny(code ReasonCode, reason string) Verdict {
	return Verdict{Allowed: false, Code: code, Reason: reason}
}

// BotRiskState 单个策略 bot 的熔断状态
type BotRiskState struct {
	BotID             int             `json:"bot_id"`
	ConsecutiveLosses int             `json:"consecutive_losses"` // 连续亏损次数
	DailyPnLPct       decimal.Decimal `json:"daily_pnl_pct"`      // 当日盈亏百分比
	BotDrawdownPct    decimal.Decimal `json:"bot_drawdown_pct"`   // 峰值回撤百分比
	IsStopped         bool            `json:"is_stopped"`
	StopReason        string          `json:"stop_reason,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewBotRiskState is the zero-valued record created on first reference to a bot.
func NewBotRiskState(botID int) BotRiskState {
	return BotRiskState{
		BotID:          botID,
		DailyPnLPct:    decimal.Zero,
		BotDrawdownPct: decimal.Zero,
	}
}

// PortfolioRiskState 组合层面的熔断状态 (单例)
type PortfolioRiskState struct {
	PortfolioDrawdownPct decimal.Decimal `json:"portfolio_drawdown_pct"`
	EmergencyStop        bool            `json:"emergency_stop"`
	EmergencyReason      string          `json:"emergency_reason,omitempty"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// CircuitBreakerStatus is the operator view of one bot plus the portfolio.
type CircuitBreakerStatus struct {
	BotID                int             `json:"bot_id"`
	IsActive             bool            `json:"is_active"` // true when the bot may NOT trade
	Reason               string          `json:"reason,omitempty"`
	ConsecutiveLosses    int             `json:"consecutive_losses"`
	DailyPnLPct          decimal.Decimal `json:"daily_pnl_pct"`
	BotDrawdownPct       decimal.Decimal `json:"bot_drawdown_pct"`
	PortfolioDrawdownPct decimal.Decimal `json:"portfolio_drawdown_pct"`
	EmergencyStop        bool            `json:"emergency_stop"`
}
