package service

import (
	"fmt"

	"github.com/GoPolymarket/polyguard/internal/config"
	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/shopspring/decimal"
)

// Thresholds 熔断阈值，整个进程只有这一份来源 (config risk.*)
type Thresholds struct {
	MaxConsecutiveLosses    int
	MaxDailyLossPct         decimal.Decimal
	MaxBotDrawdownPct       decimal.Decimal
	MaxPortfolioDrawdownPct decimal.Decimal
	SafeZones               []model.Zone
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxConsecutiveLosses:    3,
		MaxDailyLossPct:         decimal.NewFromFloat(5.0),
		MaxBotDrawdownPct:       decimal.NewFromFloat(25.0),
		MaxPortfolioDrawdownPct: decimal.NewFromFloat(40.0),
		SafeZones:               []model.Zone{1, 2, 3},
	}
}

func ThresholdsFromConfig(cfg config.RiskConfig) Thresholds {
	t := Thresholds{
		MaxConsecutiveLosses:    cfg.MaxConsecutiveLosses,
		MaxDailyLossPct:         decimal.NewFromFloat(cfg.MaxDailyLossPct),
		MaxBotDrawdownPct:       decimal.NewFromFloat(cfg.MaxBotDrawdownPct),
		MaxPortfolioDrawdownPct: decimal.NewFromFloat(cfg.MaxPortfolioDrawdownPct),
	}
	for _, z := range cfg.SafeZones {
		t.SafeZones = append(t.SafeZones, model.Zone(z))
	}
	return t
}

// BreakerInput is the live state a single evaluation runs against.
type BreakerInput struct {
	BotID                int
	Zone                 model.Zone
	ConsecutiveLosses    int
	DailyPnLPct          decimal.Decimal
	BotDrawdownPct       decimal.Decimal
	PortfolioDrawdownPct decimal.Decimal
}

// CircuitBreaker is the pure decision core. It holds no state and never
// mutates anything; persistence lives in RiskGate.
type CircuitBreaker struct {
	th   Thresholds
	safe map[model.Zone]struct{}
}

func NewCircuitBreaker(th Thresholds) *CircuitBreaker {
	safe := make(map[model.Zone]struct{}, len(th.SafeZones))
	for _, z := range th.SafeZones {
		safe[z] = struct{}{}
	}
	return &CircuitBreaker{th: th, safe: safe}
}

func (cb *CircuitBreaker) Thresholds() Thresholds {
	return cb.th
}

// Evaluate 按固定顺序执行五项检查，第一项失败即返回
// The order decides which reason is reported, so it must not change.
func (cb *CircuitBreaker) Evaluate(in BreakerInput) model.Verdict {
	// 1. 连续亏损
	if in.ConsecutiveLosses >= cb.th.MaxConsecutiveLosses {
		return model.Deny(model.ReasonConsecutiveLosses, fmt.Sprintf(
			"%s: %d consecutive losses (max %d)",
			model.ReasonConsecutiveLosses, in.ConsecutiveLosses, cb.th.MaxConsecutiveLosses))
	}

	// 2. 当日亏损
	if in.DailyPnLPct.LessThanOrEqual(cb.th.MaxDailyLossPct.Neg()) {
		return model.Deny(model.ReasonDailyLoss, fmt.Sprintf(
			"%s: %s%% daily loss (max %s%%)",
			model.ReasonDailyLoss, in.DailyPnLPct.StringFixed(1), cb.th.MaxDailyLossPct.String()))
	}

	// 3. 单 bot 回撤
	if in.BotDrawdownPct.GreaterThanOrEqual(cb.th.MaxBotDrawdownPct) {
		return model.Deny(model.ReasonBotDrawdown, fmt.Sprintf(
			"%s: %s%% bot drawdown (max %s%%)",
			model.ReasonBotDrawdown, in.BotDrawdownPct.StringFixed(1), cb.th.MaxBotDrawdownPct.String()))
	}

	// 4. 组合回撤 -> 全局紧急停止
	if in.PortfolioDrawdownPct.GreaterThanOrEqual(cb.th.MaxPortfolioDrawdownPct) {
		return model.Deny(model.ReasonPortfolioDrawdown, fmt.Sprintf(
			"%s: EMERGENCY STOP: %s%% portfolio drawdown (max %s%%)",
			model.ReasonPortfolioDrawdown, in.PortfolioDrawdownPct.StringFixed(1), cb.th.MaxPortfolioDrawdownPct.String()))
	}

	// 5. Z4/Z5 方向性交易禁止
	if _, ok := cb.safe[in.Zone]; !ok {
		return model.Deny(model.ReasonZoneBlocked, fmt.Sprintf(
			"%s: zone %d not allowed (safe zones %v)",
			model.ReasonZoneBlocked, in.Zone, cb.th.SafeZones))
	}

	return model.Allow()
}

// RecordTradeResult returns the new loss streak: a win resets it, a loss adds one.
func (cb *CircuitBreaker) RecordTradeResult(isWin bool, consecutiveLosses int) int {
	if isWin {
		return 0
	}
	if consecutiveLosses < 0 {
		consecutiveLosses = 0
	}
	return consecutiveLosses + 1
}

// PortfolioDrawdown computes (peak - value) / peak * 100, or zero without a peak.
func PortfolioDrawdown(value, peak decimal.Decimal) decimal.Decimal {
	if !peak.IsPositive() {
		return decimal.Zero
	}
	return peak.Sub(value).Div(peak).Mul(decimal.NewFromInt(100))
}
