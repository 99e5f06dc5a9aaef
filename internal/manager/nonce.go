package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/GoPolymarket/polyguard/internal/alert"
	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/GoPolymarket/polyguard/internal/pkg/apperrors"
	"github.com/GoPolymarket/polyguard/internal/pkg/logger"
	"github.com/GoPolymarket/polyguard/internal/pkg/metrics"
	"github.com/ethereum/go-ethereum/common"
)

// NonceStore is the shared counter backing the allocator. ClaimNonce must
// return-and-advance atomically; ok=false means the address was never seeded.
type NonceStore interface {
	SeedNonce(ctx context.Context, address string, next uint64) (bool, error)
	ClaimNonce(ctx context.Context, address string) (nonce uint64, ok bool, err error)
	MarkNonceUsed(ctx context.Context, address string, nonce uint64) error
	GetNonceRecord(ctx context.Context, address string) (model.NonceRecord, bool, error)
	ResetNonce(ctx context.Context, address string, next uint64) error
}

// ChainNonceSource is the authoritative transaction count.
type ChainNonceSource interface {
	PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error)
}

const defaultLockTimeout = 5 * time.Second

// NonceAllocator hands out collision-free transaction nonces per signing
// address. Only the claim step is serialized; signing and network I/O run
// outside it.
type NonceAllocator struct {
	store       NonceStore
	chain       ChainNonceSource
	lockTimeout time.Duration
	metrics     metrics.Sink
	alerts      alert.Sink
	log         *slog.Logger
}

type NonceOption func(*NonceAllocator)

func WithLockTimeout(d time.Duration) NonceOption {
	return func(a *NonceAllocator) {
		if d > 0 {
			a.lockTimeout = d
		}
	}
}

func WithNonceMetrics(m metrics.Sink) NonceOption {
	return func(a *NonceAllocator) { a.metrics = m }
}

func WithNonceAlerts(s alert.Sink) NonceOption {
	return func(a *NonceAllocator) { a.alerts = s }
}

func NewNonceAllocator(store NonceStore, chain ChainNonceSource, opts ...NonceOption) *NonceAllocator {
	a := &NonceAllocator{
		store:       store,
		chain:       chain,
		lockTimeout: defaultLockTimeout,
		metrics:     metrics.Nop{},
		alerts:      alert.Nop{},
		log:         logger.Component("nonce"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func addrKey(addr common.Address) string {
	return addr.Hex()
}

// Next returns the next nonce for addr. The first call for an address seeds
// the counter from the chain's pending count rather than zero.
func (a *NonceAllocator) Next(ctx context.Context, addr common.Address) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.lockTimeout)
	defer cancel()

	key := addrKey(addr)
	n, ok, err := a.store.ClaimNonce(ctx, key)
	if err != nil {
		return 0, a.claimError(err, addr)
	}
	if !ok {
		pending, err := a.chain.PendingNonceAt(ctx, addr)
		if err != nil {
			return 0, apperrors.NewTransient("failed to fetch pending nonce", err)
		}
		// another process may have seeded first; SeedNonce keeps its value
		if _, err := a.store.SeedNonce(ctx, key, pending); err != nil {
			return 0, a.claimError(err, addr)
		}
		n, ok, err = a.store.ClaimNonce(ctx, key)
		if err != nil {
			return 0, a.claimError(err, addr)
		}
		if !ok {
			return 0, apperrors.NewInvalidState(fmt.Sprintf("nonce counter for %s missing after seed", key))
		}
		a.log.Info("Seeded TX nonce from chain", "address", key, "nonce", pending)
	}

	a.metrics.NonceAllocated(key)
	return n, nil
}

func (a *NonceAllocator) claimError(err error, addr common.Address) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewLockTimeout(fmt.Sprintf("nonce allocation for %s timed out after %s", addr.Hex(), a.lockTimeout), err)
	}
	return apperrors.NewTransient("nonce store unavailable", err)
}

// MarkUsed records an on-chain confirmation. It feeds gap detection only.
func (a *NonceAllocator) MarkUsed(ctx context.Context, addr common.Address, nonce uint64) error {
	return a.store.MarkNonceUsed(ctx, addrKey(addr), nonce)
}

// DetectGaps lists nonces in [base, next) that were allocated but never
// confirmed. It reports; it never repairs.
func (a *NonceAllocator) DetectGaps(ctx context.Context, addr common.Address) ([]uint64, error) {
	key := addrKey(addr)
	rec, ok, err := a.store.GetNonceRecord(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	used := make(map[uint64]struct{}, len(rec.Used))
	for _, n := range rec.Used {
		used[n] = struct{}{}
	}
	var gaps []uint64
	for n := rec.Base; n < rec.Next; n++ {
		if _, ok := used[n]; !ok {
			gaps = append(gaps, n)
		}
	}

	a.metrics.NonceGaps(key, len(gaps))
	if len(gaps) > 0 {
		a.log.Warn("Nonce gaps detected", "address", key, "gaps", gaps)
		a.alerts.Notify(ctx, alert.New(alert.KindNonceGap, alert.SeverityWarning,
			fmt.Sprintf("%d unconfirmed nonce(s) for %s", len(gaps), key),
			map[string]any{"address": key, "gaps": gaps}))
	}
	return gaps, nil
}

// Reset resynchronizes the counter with the chain's pending count. This is
// the only operation that may move the counter backwards.
func (a *NonceAllocator) Reset(ctx context.Context, addr common.Address) (uint64, error) {
	key := addrKey(addr)
	pending, err := a.chain.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, apperrors.NewTransient("failed to fetch pending nonce", err)
	}
	if err := a.store.ResetNonce(ctx, key, pending); err != nil {
		return 0, err
	}
	a.log.Info("Reset TX nonce", "address", key, "nonce", pending)
	return pending, nil
}

// Resync moves the counter forward to the chain's pending count when the
// chain is ahead (another sender used this key). It never moves backwards,
// so nonces held by in-flight submissions stay unique.
func (a *NonceAllocator) Resync(ctx context.Context, addr common.Address) error {
	key := addrKey(addr)
	pending, err := a.chain.PendingNonceAt(ctx, addr)
	if err != nil {
		return apperrors.NewTransient("failed to fetch pending nonce", err)
	}
	rec, ok, err := a.store.GetNonceRecord(ctx, key)
	if err != nil {
		return err
	}
	if ok && pending <= rec.Next {
		return nil
	}
	if err := a.store.ResetNonce(ctx, key, pending); err != nil {
		return err
	}
	a.log.Warn("Nonce counter behind chain, resynced", "address", key, "nonce", pending)
	return nil
}

func (a *NonceAllocator) Record(ctx context.Context, addr common.Address) (model.NonceRecord, error) {
	rec, _, err := a.store.GetNonceRecord(ctx, addrKey(addr))
	return rec, err
}
