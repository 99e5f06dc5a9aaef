package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoPolymarket/polyguard/internal/alert"
	"github.com/GoPolymarket/polyguard/internal/config"
	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/GoPolymarket/polyguard/internal/pkg/logger"
	"github.com/GoPolymarket/polyguard/internal/pkg/metrics"
	"github.com/shopspring/decimal"
)

type LedgerStore interface {
	LoadLedger(ctx context.Context) (model.LedgerSnapshot, bool, error)
	SaveLedger(ctx context.Context, snap model.LedgerSnapshot) error
}

// Manager owns the process's view of the capital ledger. Each change is
// persisted before it becomes visible.
//
// One Manager per hot wallet across all processes: SaveLedger overwrites the
// stored snapshot, so a second writer would silently lose updates.
type Manager struct {
	mu         sync.Mutex
	store      LedgerStore
	ledger     Ledger
	lowBalance decimal.Decimal
	lowAlerted bool
	alerts     alert.Sink
	metrics    metrics.Sink
	log        *slog.Logger
}

type Option func(*Manager)

func WithAlerts(s alert.Sink) Option {
	return func(m *Manager) { m.alerts = s }
}

func WithMetrics(s metrics.Sink) Option {
	return func(m *Manager) { m.metrics = s }
}

// NewManager loads the persisted ledger, or creates one from the configured
// total and hot ratio on first run.
func NewManager(ctx context.Context, store LedgerStore, cfg config.WalletConfig, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:      store,
		lowBalance: decimal.NewFromFloat(cfg.LowBalanceThreshold),
		alerts:     alert.Nop{},
		metrics:    metrics.Nop{},
		log:        logger.Component("wallet"),
	}
	for _, opt := range opts {
		opt(m)
	}

	snap, ok, err := store.LoadLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if ok {
		m.ledger, err = LedgerFromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		m.log.Info("Wallet ledger loaded", "total", m.ledger.Total().String(), "hot", m.ledger.Hot().String())
	} else {
		m.ledger, err = NewLedgerFromTotal(decimal.NewFromFloat(cfg.TotalBalance), decimal.NewFromFloat(cfg.HotRatio))
		if err != nil {
			return nil, err
		}
		if err := store.SaveLedger(ctx, m.ledger.Snapshot()); err != nil {
			return nil, fmt.Errorf("save ledger: %w", err)
		}
		m.log.Info("Wallet ledger created", "total", m.ledger.Total().String(), "hot_ratio", m.ledger.HotRatio().String())
	}
	m.publish(ctx)
	return m, nil
}

func (m *Manager) Ledger() Ledger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger
}

func (m *Manager) Snapshot() model.LedgerSnapshot {
	return m.Ledger().Snapshot()
}

func (m *Manager) HasCapital(amount decimal.Decimal) bool {
	return m.Ledger().HasCapital(amount)
}

func (m *Manager) DeductHot(ctx context.Context, amount decimal.Decimal) (model.LedgerSnapshot, error) {
	return m.apply(ctx, func(l Ledger) (Ledger, error) { return l.DeductHot(amount) })
}

func (m *Manager) AddHot(ctx context.Context, amount decimal.Decimal) (model.LedgerSnapshot, error) {
	return m.apply(ctx, func(l Ledger) (Ledger, error) { return l.AddHot(amount) })
}

func (m *Manager) TransferToCold(ctx context.Context, amount decimal.Decimal) (model.LedgerSnapshot, error) {
	return m.apply(ctx, func(l Ledger) (Ledger, error) { return l.TransferToCold(amount) })
}

func (m *Manager) TransferToHot(ctx context.Context, amount decimal.Decimal) (model.LedgerSnapshot, error) {
	return m.apply(ctx, func(l Ledger) (Ledger, error) { return l.TransferToHot(amount) })
}

// CheckRebalance returns the plan when hot is outside the tolerance band.
func (m *Manager) CheckRebalance(ctx context.Context) (model.RebalancePlan, bool) {
	l := m.Ledger()
	if !l.NeedsRebalance() {
		return model.RebalancePlan{}, false
	}
	plan := l.CalculateRebalance()
	m.log.Info("Rebalance needed", "amount", plan.Amount.String(), "direction", string(plan.Direction),
		"current_hot", l.Hot().String(), "target_hot", l.TargetHot().String())
	m.alerts.Notify(ctx, alert.New(alert.KindRebalanceNeeded, alert.SeverityInfo,
		fmt.Sprintf("rebalance %s %s", plan.Direction, plan.Amount.StringFixed(2)),
		map[string]any{"amount": plan.Amount.String(), "direction": string(plan.Direction)}))
	return plan, true
}

// ExecuteRebalance moves funds back to the target split. The plan is
// recomputed under the lock so a concurrent spend cannot overdraw.
func (m *Manager) ExecuteRebalance(ctx context.Context) (model.RebalancePlan, model.LedgerSnapshot, error) {
	var plan model.RebalancePlan
	snap, err := m.apply(ctx, func(l Ledger) (Ledger, error) {
		if !l.NeedsRebalance() {
			return l, nil
		}
		plan = l.CalculateRebalance()
		return l.Apply(plan)
	})
	if err != nil {
		return model.RebalancePlan{}, snap, err
	}
	if plan.Direction != model.RebalanceNone {
		m.log.Info("Rebalance executed", "amount", plan.Amount.String(), "direction", string(plan.Direction))
	}
	return plan, snap, nil
}

func (m *Manager) apply(ctx context.Context, fn func(Ledger) (Ledger, error)) (model.LedgerSnapshot, error) {
	m.mu.Lock()
	next, err := fn(m.ledger)
	if err != nil {
		snap := m.ledger.Snapshot()
		m.mu.Unlock()
		return snap, err
	}
	if err := m.store.SaveLedger(ctx, next.Snapshot()); err != nil {
		snap := m.ledger.Snapshot()
		m.mu.Unlock()
		return snap, fmt.Errorf("save ledger: %w", err)
	}
	m.ledger = next
	m.mu.Unlock()

	m.publish(ctx)
	return next.Snapshot(), nil
}

func (m *Manager) publish(ctx context.Context) {
	m.mu.Lock()
	l := m.ledger
	fire := false
	if m.lowBalance.IsPositive() && l.Hot().LessThan(m.lowBalance) {
		fire = !m.lowAlerted
		m.lowAlerted = true
	} else {
		m.lowAlerted = false
	}
	m.mu.Unlock()

	m.metrics.WalletBalance("total", l.Total().InexactFloat64())
	m.metrics.WalletBalance("hot", l.Hot().InexactFloat64())
	m.metrics.WalletBalance("cold", l.Cold().InexactFloat64())

	if fire {
		m.log.Warn("Hot wallet balance low", "hot", l.Hot().String(), "threshold", m.lowBalance.String())
		m.alerts.Notify(ctx, alert.New(alert.KindLowBalance, alert.SeverityWarning,
			fmt.Sprintf("hot wallet balance %s below %s", l.Hot().StringFixed(2), m.lowBalance.StringFixed(2)),
			map[string]any{"hot": l.Hot().String(), "threshold": m.lowBalance.String()}))
	}
}
