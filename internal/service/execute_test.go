package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/GoPolymarket/polyguard/internal/config"
	"github.com/GoPolymarket/polyguard/internal/manager"
	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/GoPolymarket/polyguard/internal/pkg/apperrors"
	"github.com/GoPolymarket/polyguard/internal/repository"
	"github.com/GoPolymarket/polyguard/internal/signer"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mempoolChain accepts every broadcast and never mines anything.
type mempoolChain struct {
	mu   sync.Mutex
	sent int
}

func (c *mempoolChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent++
	return nil
}

func (c *mempoolChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func (c *mempoolChain) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	return 0, nil
}

func (c *mempoolChain) BaseFee(ctx context.Context) (*big.Int, error) {
	return big.NewInt(40_000_000_000), nil
}

func (c *mempoolChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}

func (c *mempoolChain) broadcasts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

func TestExecuteKeepsReservationWhenBroadcastTxIsDropped(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := signer.NewSigner(common.Bytes2Hex(crypto.FromECDSA(key)), 137)
	require.NoError(t, err)

	chain := &mempoolChain{}
	nonces := manager.NewNonceAllocator(repository.NewMemoryStore(), chain)
	gas := manager.NewGasPolicy(chain, manager.GasPolicyConfigFrom(config.Default().Gas), nil)
	sub := manager.NewTransactionSubmitter(chain, sig, nonces, gas, manager.SubmitterConfig{
		ConfirmTimeout: 5 * time.Millisecond,
		PollInterval:   time.Millisecond,
		MaxAttempts:    2,
		BackoffBase:    time.Millisecond,
	})

	w := newWallet(t)
	g, _, _ := newGate(t, WithCapital(w), WithSubmitter(sub))

	req := trade(1, 1, "10000", "10000")
	req.Amount = d("100")
	v, res, err := g.Execute(context.Background(), req, manager.TxRequest{To: common.HexToAddress("0x01"), GasLimit: 21000})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.TxDropped))
	assert.True(t, v.Allowed)
	assert.Equal(t, model.TxDropped, res.State)
	assert.True(t, res.Broadcast)
	assert.Equal(t, 2, chain.broadcasts())

	// both signed txs may still be mined: the capital stays reserved
	assert.True(t, w.Snapshot().Hot.Equal(d("1400")), w.Snapshot().Hot.String())
}
