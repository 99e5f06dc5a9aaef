package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/GoPolymarket/polyguard/internal/pkg/apperrors"
	"github.com/GoPolymarket/polyguard/internal/repository"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")

type fakeNonceSource struct {
	pending atomic.Uint64
	calls   atomic.Int32
	err     error
}

func (f *fakeNonceSource) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	f.calls.Add(1)
	if f.err != nil {
		return 0, f.err
	}
	return f.pending.Load(), nil
}

func newSource(n uint64) *fakeNonceSource {
	f := &fakeNonceSource{}
	f.pending.Store(n)
	return f
}

func TestNextSeedsFromChain(t *testing.T) {
	src := newSource(42)
	a := NewNonceAllocator(repository.NewMemoryStore(), src)
	ctx := context.Background()

	n, err := a.Next(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)

	n, err = a.Next(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(43), n)
	assert.Equal(t, int32(1), src.calls.Load(), "chain is queried only to seed")
}

func TestNextConcurrentCallersGetContiguousRange(t *testing.T) {
	for _, name := range []string{"memory", "sqlite"} {
		t.Run(name, func(t *testing.T) {
			var store NonceStore = repository.NewMemoryStore()
			if name == "sqlite" {
				s, err := repository.NewSQLiteStore(":memory:")
				require.NoError(t, err)
				defer s.Close()
				store = s
			}
			const seed, n = 100, 50
			a := NewNonceAllocator(store, newSource(seed))

			results := make(chan uint64, n)
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					got, err := a.Next(context.Background(), testAddr)
					assert.NoError(t, err)
					results <- got
				}()
			}
			wg.Wait()
			close(results)

			seen := make(map[uint64]bool)
			for got := range results {
				assert.False(t, seen[got], "duplicate nonce %d", got)
				seen[got] = true
			}
			require.Len(t, seen, n)
			for i := uint64(seed); i < seed+n; i++ {
				assert.True(t, seen[i], "missing nonce %d", i)
			}
		})
	}
}

func TestDetectGapsAndReset(t *testing.T) {
	src := newSource(10)
	a := NewNonceAllocator(repository.NewMemoryStore(), src)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := a.Next(ctx, testAddr)
		require.NoError(t, err)
	}
	require.NoError(t, a.MarkUsed(ctx, testAddr, 10))
	require.NoError(t, a.MarkUsed(ctx, testAddr, 12))

	// 0..9 predate the seed and are not reported
	gaps, err := a.DetectGaps(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, []uint64{11, 13}, gaps)

	// chain says 11 and 13 landed too
	src.pending.Store(14)
	next, err := a.Reset(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(14), next)

	gaps, err = a.DetectGaps(ctx, testAddr)
	require.NoError(t, err)
	assert.Empty(t, gaps)

	n, err := a.Next(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(14), n)
}

func TestResetCanMoveBackwards(t *testing.T) {
	src := newSource(5)
	a := NewNonceAllocator(repository.NewMemoryStore(), src)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := a.Next(ctx, testAddr)
		require.NoError(t, err)
	}

	// 6 and 7 were never broadcast
	src.pending.Store(6)
	_, err := a.Reset(ctx, testAddr)
	require.NoError(t, err)

	n, err := a.Next(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), n)
}

func TestDetectGapsUnknownAddress(t *testing.T) {
	a := NewNonceAllocator(repository.NewMemoryStore(), newSource(0))
	gaps, err := a.DetectGaps(context.Background(), testAddr)
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

// blockingStore never grants a claim until ctx expires.
type blockingStore struct {
	NonceStore
}

func (blockingStore) ClaimNonce(ctx context.Context, address string) (uint64, bool, error) {
	<-ctx.Done()
	return 0, false, ctx.Err()
}

func TestNextLockTimeout(t *testing.T) {
	a := NewNonceAllocator(blockingStore{repository.NewMemoryStore()}, newSource(0),
		WithLockTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := a.Next(context.Background(), testAddr)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.LockTimeout))
	assert.Less(t, time.Since(start), time.Second)
}

func TestNextChainErrorIsTransient(t *testing.T) {
	src := &fakeNonceSource{err: errors.New("connection reset")}
	a := NewNonceAllocator(repository.NewMemoryStore(), src)

	_, err := a.Next(context.Background(), testAddr)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.TransientNetwork))
}

func TestRecordReflectsStore(t *testing.T) {
	a := NewNonceAllocator(repository.NewMemoryStore(), newSource(3))
	ctx := context.Background()
	_, err := a.Next(ctx, testAddr)
	require.NoError(t, err)

	rec, err := a.Record(ctx, testAddr)
	require.NoError(t, err)
	assert.Equal(t, model.NonceRecord{Address: testAddr.Hex(), Base: 3, Next: 4}, rec)
}
