package wallet

import (
	"fmt"
	"time"

	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/GoPolymarket/polyguard/internal/pkg/apperrors"
	"github.com/shopspring/decimal"
)

var (
	MinHotRatio = decimal.RequireFromString("0.10")
	MaxHotRatio = decimal.RequireFromString("0.20")

	balanceEpsilon = decimal.RequireFromString("0.01")
	bandLow        = decimal.RequireFromString("0.80")
	bandHigh       = decimal.RequireFromString("1.20")
)

// Ledger 热/冷钱包资金分配 (immutable value)
// Every operation returns a new Ledger; hot + cold == total always holds.
type Ledger struct {
	total     decimal.Decimal
	hot       decimal.Decimal
	cold      decimal.Decimal
	hotRatio  decimal.Decimal
	updatedAt time.Time
}

// NewLedger validates the allocation. An inconsistent split is an error,
// never a warning.
func NewLedger(total, hot, cold, hotRatio decimal.Decimal) (Ledger, error) {
	if total.IsNegative() || hot.IsNegative() || cold.IsNegative() {
		return Ledger{}, apperrors.NewInvalidState(fmt.Sprintf("negative balance: total=%s hot=%s cold=%s", total, hot, cold))
	}
	if hotRatio.LessThan(MinHotRatio) || hotRatio.GreaterThan(MaxHotRatio) {
		return Ledger{}, apperrors.NewInvalidState(fmt.Sprintf("hot ratio %s outside [%s, %s]", hotRatio, MinHotRatio, MaxHotRatio))
	}
	if hot.Add(cold).Sub(total).Abs().GreaterThan(balanceEpsilon) {
		return Ledger{}, apperrors.NewInvalidState(fmt.Sprintf("hot %s + cold %s != total %s", hot, cold, total))
	}
	return Ledger{total: total, hot: hot, cold: cold, hotRatio: hotRatio, updatedAt: time.Now().UTC()}, nil
}

// NewLedgerFromTotal splits total at the target ratio.
func NewLedgerFromTotal(total, hotRatio decimal.Decimal) (Ledger, error) {
	hot := total.Mul(hotRatio)
	return NewLedger(total, hot, total.Sub(hot), hotRatio)
}

func LedgerFromSnapshot(s model.LedgerSnapshot) (Ledger, error) {
	l, err := NewLedger(s.Total, s.Hot, s.Cold, s.HotRatio)
	if err != nil {
		return Ledger{}, err
	}
	if !s.UpdatedAt.IsZero() {
		l.updatedAt = s.UpdatedAt
	}
	return l, nil
}

func (l Ledger) Total() decimal.Decimal    { return l.total }
func (l Ledger) Hot() decimal.Decimal      { return l.hot }
func (l Ledger) Cold() decimal.Decimal     { return l.cold }
func (l Ledger) HotRatio() decimal.Decimal { return l.hotRatio }

func (l Ledger) TargetHot() decimal.Decimal {
	return l.total.Mul(l.hotRatio)
}

func (l Ledger) Snapshot() model.LedgerSnapshot {
	return model.LedgerSnapshot{
		Total:     l.total,
		Hot:       l.hot,
		Cold:      l.cold,
		HotRatio:  l.hotRatio,
		UpdatedAt: l.updatedAt,
	}
}

// NeedsRebalance reports hot/target outside [0.80, 1.20]; the edges themselves
// do not trigger.
func (l Ledger) NeedsRebalance() bool {
	target := l.TargetHot()
	if target.IsZero() {
		return false
	}
	r := l.hot.Div(target)
	return r.LessThan(bandLow) || r.GreaterThan(bandHigh)
}

func (l Ledger) CalculateRebalance() model.RebalancePlan {
	target := l.TargetHot()
	diff := l.hot.Sub(target)
	switch {
	case diff.IsPositive():
		return model.RebalancePlan{Amount: diff, Direction: model.RebalanceHotToCold}
	case diff.IsNegative():
		return model.RebalancePlan{Amount: diff.Abs(), Direction: model.RebalanceColdToHot}
	default:
		return model.RebalancePlan{Amount: decimal.Zero, Direction: model.RebalanceNone}
	}
}

func (l Ledger) HasCapital(amount decimal.Decimal) bool {
	return !amount.IsNegative() && l.hot.GreaterThanOrEqual(amount)
}

// DeductHot spends from the hot wallet (total shrinks).
func (l Ledger) DeductHot(amount decimal.Decimal) (Ledger, error) {
	if err := checkAmount(amount); err != nil {
		return l, err
	}
	if l.hot.LessThan(amount) {
		return l, insufficient("hot", l.hot, amount)
	}
	return NewLedger(l.total.Sub(amount), l.hot.Sub(amount), l.cold, l.hotRatio)
}

// AddHot credits proceeds to the hot wallet (total grows).
func (l Ledger) AddHot(amount decimal.Decimal) (Ledger, error) {
	if err := checkAmount(amount); err != nil {
		return l, err
	}
	return NewLedger(l.total.Add(amount), l.hot.Add(amount), l.cold, l.hotRatio)
}

func (l Ledger) TransferToCold(amount decimal.Decimal) (Ledger, error) {
	if err := checkAmount(amount); err != nil {
		return l, err
	}
	if l.hot.LessThan(amount) {
		return l, insufficient("hot", l.hot, amount)
	}
	return NewLedger(l.total, l.hot.Sub(amount), l.cold.Add(amount), l.hotRatio)
}

func (l Ledger) TransferToHot(amount decimal.Decimal) (Ledger, error) {
	if err := checkAmount(amount); err != nil {
		return l, err
	}
	if l.cold.LessThan(amount) {
		return l, insufficient("cold", l.cold, amount)
	}
	return NewLedger(l.total, l.hot.Add(amount), l.cold.Sub(amount), l.hotRatio)
}

// Apply executes a rebalance plan.
func (l Ledger) Apply(plan model.RebalancePlan) (Ledger, error) {
	switch plan.Direction {
	case model.RebalanceHotToCold:
		return l.TransferToCold(plan.Amount)
	case model.RebalanceColdToHot:
		return l.TransferToHot(plan.Amount)
	default:
		return l, nil
	}
}

func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperrors.NewInvalidRequest(fmt.Sprintf("amount must be positive, got %s", amount))
	}
	return nil
}

func insufficient(side string, have, need decimal.Decimal) error {
	return apperrors.NewInsufficientBalance(fmt.Sprintf("insufficient %s balance: have %s, need %s", side, have, need))
}
