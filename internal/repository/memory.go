package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/GoPolymarket/polyguard/internal/model"
)

type memNonce struct {
	base uint64
	next uint64
	used map[uint64]struct{}
}

// MemoryStore 进程内存储，用于测试和单机 dry-run
// Risk state, ledger and nonce records live behind one RWMutex; nonce claims
// additionally pass a one-slot semaphore so a caller can give up on ctx.
type MemoryStore struct {
	mu        sync.RWMutex
	bots      map[int]model.BotRiskState
	portfolio model.PortfolioRiskState
	ledger    *model.LedgerSnapshot
	nonces    map[string]*memNonce
	journal   []model.TxRecord

	nonceSem chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bots:     make(map[int]model.BotRiskState),
		nonces:   make(map[string]*memNonce),
		nonceSem: make(chan struct{}, 1),
	}
}

func (s *MemoryStore) GetBotState(ctx context.Context, botID int) (model.BotRiskState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.bots[botID]; ok {
		return st, nil
	}
	return model.NewBotRiskState(botID), nil
}

func (s *MemoryStore) UpdateBotState(ctx context.Context, botID int, fn func(*model.BotRiskState) error) (model.BotRiskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.bots[botID]
	if !ok {
		st = model.NewBotRiskState(botID)
	}
	if err := fn(&st); err != nil {
		return model.BotRiskState{}, err
	}
	st.UpdatedAt = time.Now().UTC()
	s.bots[botID] = st
	return st, nil
}

func (s *MemoryStore) ListBotStates(ctx context.Context) ([]model.BotRiskState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.BotRiskState, 0, len(s.bots))
	for _, st := range s.bots {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BotID < out[j].BotID })
	return out, nil
}

func (s *MemoryStore) GetPortfolioState(ctx context.Context) (model.PortfolioRiskState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.portfolio, nil
}

func (s *MemoryStore) UpdatePortfolioState(ctx context.Context, fn func(*model.PortfolioRiskState) error) (model.PortfolioRiskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.portfolio
	if err := fn(&st); err != nil {
		return model.PortfolioRiskState{}, err
	}
	st.UpdatedAt = time.Now().UTC()
	s.portfolio = st
	return st, nil
}

func (s *MemoryStore) LoadLedger(ctx context.Context) (model.LedgerSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ledger == nil {
		return model.LedgerSnapshot{}, false, nil
	}
	return *s.ledger, true, nil
}

func (s *MemoryStore) SaveLedger(ctx context.Context, snap model.LedgerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = &snap
	return nil
}

func (s *MemoryStore) SeedNonce(ctx context.Context, address string, next uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nonces[address]; ok {
		return false, nil
	}
	s.nonces[address] = &memNonce{base: next, next: next, used: make(map[uint64]struct{})}
	return true, nil
}

func (s *MemoryStore) ClaimNonce(ctx context.Context, address string) (uint64, bool, error) {
	select {
	case s.nonceSem <- struct{}{}:
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
	defer func() { <-s.nonceSem }()

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.nonces[address]
	if !ok {
		return 0, false, nil
	}
	n := rec.next
	rec.next++
	return n, true, nil
}

func (s *MemoryStore) MarkNonceUsed(ctx context.Context, address string, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.nonces[address]
	if !ok {
		rec = &memNonce{used: make(map[uint64]struct{})}
		s.nonces[address] = rec
	}
	rec.used[nonce] = struct{}{}
	return nil
}

func (s *MemoryStore) GetNonceRecord(ctx context.Context, address string) (model.NonceRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.nonces[address]
	if !ok {
		return model.NonceRecord{Address: address}, false, nil
	}
	out := model.NonceRecord{Address: address, Base: rec.base, Next: rec.next}
	for n := range rec.used {
		out.Used = append(out.Used, n)
	}
	sort.Slice(out.Used, func(i, j int) bool { return out.Used[i] < out.Used[j] })
	return out, true, nil
}

func (s *MemoryStore) ResetNonce(ctx context.Context, address string, next uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.nonces[address]
	if !ok {
		s.nonces[address] = &memNonce{base: next, next: next, used: make(map[uint64]struct{})}
		return nil
	}
	rec.base, rec.next = next, next
	for n := range rec.used {
		if n < next {
			delete(rec.used, n)
		}
	}
	return nil
}

func (s *MemoryStore) SaveTxRecord(ctx context.Context, rec model.TxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = append(s.journal, rec)
	return nil
}

// ListTxRecords returns the newest records first.
func (s *MemoryStore) ListTxRecords(ctx context.Context, limit int) ([]model.TxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.journal) {
		limit = len(s.journal)
	}
	out := make([]model.TxRecord, 0, limit)
	for i := len(s.journal) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.journal[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
