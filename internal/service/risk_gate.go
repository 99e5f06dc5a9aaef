package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoPolymarket/polyguard/internal/alert"
	"github.com/GoPolymarket/polyguard/internal/manager"
	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/GoPolymarket/polyguard/internal/pkg/apperrors"
	"github.com/GoPolymarket/polyguard/internal/pkg/logger"
	"github.com/GoPolymarket/polyguard/internal/pkg/metrics"
	"github.com/shopspring/decimal"
)

const (
	reasonBotStopped    = "Bot stopped by circuit breaker"
	reasonEmergencyStop = "Emergency stop active"
)

// RiskStore persists per-bot and portfolio breaker state. Update* run fn as
// an atomic read-modify-write; a non-nil error from fn aborts the write.
type RiskStore interface {
	GetBotState(ctx context.Context, botID int) (model.BotRiskState, error)
	UpdateBotState(ctx context.Context, botID int, fn func(*model.BotRiskState) error) (model.BotRiskState, error)
	ListBotStates(ctx context.Context) ([]model.BotRiskState, error)
	GetPortfolioState(ctx context.Context) (model.PortfolioRiskState, error)
	UpdatePortfolioState(ctx context.Context, fn func(*model.PortfolioRiskState) error) (model.PortfolioRiskState, error)
}

// Capital is the hot-wallet view the gate needs (wallet.Manager).
type Capital interface {
	HasCapital(amount decimal.Decimal) bool
	DeductHot(ctx context.Context, amount decimal.Decimal) (model.LedgerSnapshot, error)
	AddHot(ctx context.Context, amount decimal.Decimal) (model.LedgerSnapshot, error)
}

type Submitter interface {
	Send(ctx context.Context, req manager.TxRequest, opts ...manager.SendOption) (manager.SendResult, error)
}

// RiskGate 策略下单前的唯一入口
// It is the only component allowed to halt all trading.
type RiskGate struct {
	breaker   *CircuitBreaker
	store     RiskStore
	capital   Capital
	submitter Submitter
	exchange  Exchange
	alerts    alert.Sink
	metrics   metrics.Sink
	log       *slog.Logger

	halted atomic.Bool
	locks  sync.Map // bot id -> *sync.Mutex
}

type RiskGateOption func(*RiskGate)

func WithCapital(c Capital) RiskGateOption {
	return func(g *RiskGate) { g.capital = c }
}

func WithSubmitter(s Submitter) RiskGateOption {
	return func(g *RiskGate) { g.submitter = s }
}

func WithAlertSink(s alert.Sink) RiskGateOption {
	return func(g *RiskGate) {
		if s != nil {
			g.alerts = s
		}
	}
}

func WithMetricsSink(m metrics.Sink) RiskGateOption {
	return func(g *RiskGate) {
		if m != nil {
			g.metrics = m
		}
	}
}

func NewRiskGate(breaker *CircuitBreaker, store RiskStore, opts ...RiskGateOption) *RiskGate {
	g := &RiskGate{
		breaker: breaker,
		store:   store,
		alerts:  alert.Nop{},
		metrics: metrics.Nop{},
		log:     logger.Component("risk_gate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Halted reports the in-process emergency flag.
func (g *RiskGate) Halted() bool {
	return g.halted.Load()
}

func (g *RiskGate) lockBot(botID int) func() {
	v, _ := g.locks.LoadOrStore(botID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CheckBeforeTrade runs the breaker against live state and persists the
// outcome. A denial is returned as a Verdict; errors are store failures only.
func (g *RiskGate) CheckBeforeTrade(ctx context.Context, req model.TradeRequest) (model.Verdict, error) {
	unlock := g.lockBot(req.BotID)
	defer unlock()

	// 1. 已熔断的 bot 直接拒绝，需人工 reset
	bot, err := g.store.GetBotState(ctx, req.BotID)
	if err != nil {
		return model.Verdict{}, err
	}
	if bot.IsStopped {
		g.metrics.RiskReject(string(model.ReasonBotStopped))
		return model.Deny(model.ReasonBotStopped, reasonBotStopped), nil
	}

	// 2. 全局紧急停止
	portfolio, err := g.store.GetPortfolioState(ctx)
	if err != nil {
		return model.Verdict{}, err
	}
	if portfolio.EmergencyStop {
		g.halted.Store(true)
		g.metrics.RiskReject(string(model.ReasonEmergencyStop))
		return model.Deny(model.ReasonEmergencyStop, reasonEmergencyStop), nil
	}

	// 3. 先持久化组合回撤，拒绝时也可见
	drawdown := PortfolioDrawdown(req.PortfolioValue, req.PortfolioPeak)
	portfolio, err = g.store.UpdatePortfolioState(ctx, func(p *model.PortfolioRiskState) error {
		p.PortfolioDrawdownPct = drawdown
		p.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return model.Verdict{}, err
	}
	g.metrics.PortfolioDrawdown(drawdown.InexactFloat64())
	// another bot or process may have stopped everything since step 2
	if portfolio.EmergencyStop {
		g.halted.Store(true)
		g.metrics.RiskReject(string(model.ReasonEmergencyStop))
		return model.Deny(model.ReasonEmergencyStop, reasonEmergencyStop), nil
	}

	// 4. 熔断检查
	verdict := g.breaker.Evaluate(BreakerInput{
		BotID:                req.BotID,
		Zone:                 req.Zone,
		ConsecutiveLosses:    bot.ConsecutiveLosses,
		DailyPnLPct:          bot.DailyPnLPct,
		BotDrawdownPct:       bot.BotDrawdownPct,
		PortfolioDrawdownPct: portfolio.PortfolioDrawdownPct,
	})
	if verdict.Allowed {
		return verdict, nil
	}

	// 5. 触发熔断
	g.metrics.RiskReject(string(verdict.Code))
	if verdict.Code.IsEmergency() {
		if err := g.setEmergency(ctx, verdict.Reason); err != nil {
			return verdict, err
		}
		return verdict, nil
	}
	if err := g.stopBot(ctx, req.BotID, verdict); err != nil {
		return verdict, err
	}
	return verdict, nil
}

// Authorize is CheckBeforeTrade behind the in-process emergency flag, plus a
// hot-wallet capital check when the request carries an amount.
func (g *RiskGate) Authorize(ctx context.Context, req model.TradeRequest) (model.Verdict, error) {
	if req.Amount.IsNegative() {
		return model.Verdict{}, apperrors.NewInvalidRequest("amount must not be negative")
	}
	if g.halted.Load() {
		// another process may have reset the emergency
		p, err := g.store.GetPortfolioState(ctx)
		if err != nil {
			return model.Verdict{}, err
		}
		if p.EmergencyStop {
			g.metrics.RiskReject(string(model.ReasonEmergencyStop))
			return model.Deny(model.ReasonEmergencyStop, reasonEmergencyStop), nil
		}
		g.halted.Store(false)
	}

	verdict, err := g.CheckBeforeTrade(ctx, req)
	if err != nil || !verdict.Allowed {
		return verdict, err
	}

	if g.capital != nil && req.Amount.IsPositive() && !g.capital.HasCapital(req.Amount) {
		g.metrics.RiskReject(string(model.ReasonInsufficientCapital))
		return model.Deny(model.ReasonInsufficientCapital, fmt.Sprintf(
			"%s: hot wallet cannot cover %s", model.ReasonInsufficientCapital, req.Amount.StringFixed(2))), nil
	}
	return verdict, nil
}

// Execute authorizes, reserves the amount from the hot wallet and submits tx.
// The reservation is refunded only when the transaction provably did not
// execute: nothing was broadcast, or it was mined and reverted.
func (g *RiskGate) Execute(ctx context.Context, req model.TradeRequest, tx manager.TxRequest, opts ...manager.SendOption) (model.Verdict, manager.SendResult, error) {
	if g.submitter == nil {
		return model.Verdict{}, manager.SendResult{}, apperrors.NewInvalidState("no transaction submitter configured")
	}

	verdict, err := g.Authorize(ctx, req)
	if err != nil || !verdict.Allowed {
		return verdict, manager.SendResult{}, err
	}

	reserved := g.capital != nil && req.Amount.IsPositive()
	if reserved {
		if _, err := g.capital.DeductHot(ctx, req.Amount); err != nil {
			if errors.Is(err, apperrors.InsufficientBalance) {
				g.metrics.RiskReject(string(model.ReasonInsufficientCapital))
				return model.Deny(model.ReasonInsufficientCapital, fmt.Sprintf("%s: %v", model.ReasonInsufficientCapital, err)),
					manager.SendResult{}, nil
			}
			return verdict, manager.SendResult{}, err
		}
	}

	res, err := g.submitter.Send(ctx, tx, opts...)
	if err != nil && reserved && !mayHaveSpent(res) {
		if _, rerr := g.capital.AddHot(context.WithoutCancel(ctx), req.Amount); rerr != nil {
			g.log.Error("Failed to refund hot wallet reservation", "bot_id", req.BotID, "amount", req.Amount.String(), "error", rerr)
		}
	}
	if err != nil {
		g.log.Warn("Trade submission failed", "bot_id", req.BotID, "id", res.ID, "state", string(res.State), "error", err)
	}
	return verdict, res, err
}

// mayHaveSpent reports whether a signed tx carrying the reservation can still
// land (or already did) on chain.
func mayHaveSpent(res manager.SendResult) bool {
	if res.State == model.TxFailed && res.Receipt != nil {
		// mined and reverted: the nonce is consumed, nothing else can land on it
		return false
	}
	return res.Broadcast
}

// RecordTradeResult updates the loss streak from realized P&L and credits
// positive proceeds back to the hot wallet.
func (g *RiskGate) RecordTradeResult(ctx context.Context, res model.TradeResult) (model.BotRiskState, error) {
	unlock := g.lockBot(res.BotID)
	st, err := g.store.UpdateBotState(ctx, res.BotID, func(s *model.BotRiskState) error {
		s.ConsecutiveLosses = g.breaker.RecordTradeResult(res.IsWin(), s.ConsecutiveLosses)
		s.UpdatedAt = time.Now().UTC()
		return nil
	})
	unlock()
	if err != nil {
		return st, err
	}
	g.metrics.ConsecutiveLosses(res.BotID, st.ConsecutiveLosses)

	if g.capital != nil && res.Proceeds.IsPositive() {
		if _, err := g.capital.AddHot(ctx, res.Proceeds); err != nil {
			return st, err
		}
	}

	g.log.Info("Trade result recorded", "bot_id", res.BotID, "pnl", res.PnL.String(),
		"is_win", res.IsWin(), "consecutive_losses", st.ConsecutiveLosses)
	return st, nil
}

func (g *RiskGate) GetStatus(ctx context.Context, botID int) (model.CircuitBreakerStatus, error) {
	bot, err := g.store.GetBotState(ctx, botID)
	if err != nil {
		return model.CircuitBreakerStatus{}, err
	}
	portfolio, err := g.store.GetPortfolioState(ctx)
	if err != nil {
		return model.CircuitBreakerStatus{}, err
	}
	return status(bot, portfolio), nil
}

// ListStatuses returns every bot the store has seen.
func (g *RiskGate) ListStatuses(ctx context.Context) ([]model.CircuitBreakerStatus, error) {
	bots, err := g.store.ListBotStates(ctx)
	if err != nil {
		return nil, err
	}
	portfolio, err := g.store.GetPortfolioState(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.CircuitBreakerStatus, 0, len(bots))
	for _, b := range bots {
		out = append(out, status(b, portfolio))
	}
	return out, nil
}

func (g *RiskGate) Portfolio(ctx context.Context) (model.PortfolioRiskState, error) {
	return g.store.GetPortfolioState(ctx)
}

func status(bot model.BotRiskState, portfolio model.PortfolioRiskState) model.CircuitBreakerStatus {
	s := model.CircuitBreakerStatus{
		BotID:                bot.BotID,
		IsActive:             bot.IsStopped,
		Reason:               bot.StopReason,
		ConsecutiveLosses:    bot.ConsecutiveLosses,
		DailyPnLPct:          bot.DailyPnLPct,
		BotDrawdownPct:       bot.BotDrawdownPct,
		PortfolioDrawdownPct: portfolio.PortfolioDrawdownPct,
		EmergencyStop:        portfolio.EmergencyStop,
	}
	if portfolio.EmergencyStop {
		s.IsActive = true
		s.Reason = reasonEmergencyStop
	}
	return s
}

// ResetBot clears the streak and the stop flag. It never touches the
// portfolio emergency stop.
func (g *RiskGate) ResetBot(ctx context.Context, botID int) (model.BotRiskState, error) {
	unlock := g.lockBot(botID)
	defer unlock()

	wasStopped := false
	st, err := g.store.UpdateBotState(ctx, botID, func(s *model.BotRiskState) error {
		wasStopped = s.IsStopped
		s.ConsecutiveLosses = 0
		s.IsStopped = false
		s.StopReason = ""
		s.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return st, err
	}
	g.metrics.BotStopped(botID, false)
	g.metrics.ConsecutiveLosses(botID, 0)

	g.log.Info("Bot circuit breaker reset", "bot_id", botID, "was_stopped", wasStopped)
	if wasStopped {
		g.alerts.Notify(ctx, alert.New(alert.KindBotReset, alert.SeverityInfo,
			fmt.Sprintf("bot %d circuit breaker reset", botID),
			map[string]any{"bot_id": botID}))
	}
	return st, nil
}

// TriggerEmergencyStop halts every bot until ResetEmergency.
func (g *RiskGate) TriggerEmergencyStop(ctx context.Context, reason string) error {
	if reason == "" {
		reason = "manual emergency stop"
	}
	return g.setEmergency(ctx, reason)
}

// ResetEmergency clears the portfolio stop after recomputing drawdown from
// the supplied value and peak. It refuses while drawdown is still at or
// above the portfolio limit.
func (g *RiskGate) ResetEmergency(ctx context.Context, value, peak decimal.Decimal) (model.PortfolioRiskState, error) {
	drawdown := PortfolioDrawdown(value, peak)
	limit := g.breaker.Thresholds().MaxPortfolioDrawdownPct
	if drawdown.GreaterThanOrEqual(limit) {
		return model.PortfolioRiskState{}, apperrors.NewInvalidState(fmt.Sprintf(
			"portfolio drawdown %s%% still at or above max %s%%", drawdown.StringFixed(1), limit.String()))
	}

	wasStopped := false
	p, err := g.store.UpdatePortfolioState(ctx, func(p *model.PortfolioRiskState) error {
		wasStopped = p.EmergencyStop
		p.EmergencyStop = false
		p.EmergencyReason = ""
		p.PortfolioDrawdownPct = drawdown
		p.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return p, err
	}
	g.halted.Store(false)
	g.metrics.EmergencyStop(false)
	g.metrics.PortfolioDrawdown(drawdown.InexactFloat64())

	g.log.Warn("Emergency stop reset", "portfolio_drawdown_pct", drawdown.StringFixed(2), "was_stopped", wasStopped)
	if wasStopped {
		g.alerts.Notify(ctx, alert.New(alert.KindEmergencyReset, alert.SeverityWarning,
			"emergency stop cleared by operator",
			map[string]any{"portfolio_drawdown_pct": drawdown.StringFixed(2)}))
	}
	return p, nil
}

// UpdateBotMetrics stores externally computed daily P&L and drawdown. Nil
// fields are left unchanged.
func (g *RiskGate) UpdateBotMetrics(ctx context.Context, botID int, upd model.BotMetricsUpdate) (model.BotRiskState, error) {
	unlock := g.lockBot(botID)
	defer unlock()

	return g.store.UpdateBotState(ctx, botID, func(s *model.BotRiskState) error {
		if upd.DailyPnLPct != nil {
			s.DailyPnLPct = *upd.DailyPnLPct
		}
		if upd.BotDrawdownPct != nil {
			if upd.BotDrawdownPct.IsNegative() {
				return apperrors.NewInvalidRequest("bot_drawdown_pct must not be negative")
			}
			s.BotDrawdownPct = *upd.BotDrawdownPct
		}
		s.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// ResetDaily zeroes every bot's daily P&L at the day boundary. Stopped bots
// stay stopped.
func (g *RiskGate) ResetDaily(ctx context.Context) error {
	bots, err := g.store.ListBotStates(ctx)
	if err != nil {
		return err
	}
	for _, b := range bots {
		unlock := g.lockBot(b.BotID)
		_, err := g.store.UpdateBotState(ctx, b.BotID, func(s *model.BotRiskState) error {
			s.DailyPnLPct = decimal.Zero
			s.UpdatedAt = time.Now().UTC()
			return nil
		})
		unlock()
		if err != nil {
			return err
		}
	}
	g.log.Info("Daily P&L reset", "bots", len(bots))
	return nil
}

func (g *RiskGate) stopBot(ctx context.Context, botID int, v model.Verdict) error {
	_, err := g.store.UpdateBotState(ctx, botID, func(s *model.BotRiskState) error {
		s.IsStopped = true
		s.StopReason = v.Reason
		s.UpdatedAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return err
	}
	g.metrics.BotStopped(botID, true)
	g.log.Warn("Circuit breaker triggered", "bot_id", botID, "code", string(v.Code), "reason", v.Reason)
	g.alerts.Notify(ctx, alert.New(alert.KindCircuitBreaker, alert.SeverityError,
		fmt.Sprintf("bot %d stopped: %s", botID, v.Reason),
		map[string]any{"bot_id": botID, "code": string(v.Code), "reason": v.Reason}))
	return nil
}

// setEmergency is one-way: only ResetEmergency clears it.
func (g *RiskGate) setEmergency(ctx context.Context, reason string) error {
	g.halted.Store(true)

	already := false
	_, err := g.store.UpdatePortfolioState(ctx, func(p *model.PortfolioRiskState) error {
		already = p.EmergencyStop
		if !already {
			p.EmergencyStop = true
			p.EmergencyReason = reason
			p.UpdatedAt = time.Now().UTC()
		}
		return nil
	})
	if err != nil {
		return err
	}
	g.metrics.EmergencyStop(true)
	if already {
		return nil
	}

	g.log.Error("EMERGENCY STOP triggered", "reason", reason)
	g.alerts.Notify(ctx, alert.New(alert.KindEmergencyStop, alert.SeverityCritical,
		"emergency stop: all trading halted",
		map[string]any{"reason": reason}))
	return nil
}
