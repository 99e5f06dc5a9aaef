package manager

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/GoPolymarket/polyguard/internal/alert"
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

// fakeChain mines the Nth broadcast with the configured receipt status.
type fakeChain struct {
	mu       sync.Mutex
	sent     []*types.Transaction
	sendErrs map[int]error
	mineOn   map[int]uint64
	receipts map[common.Hash]*types.Receipt
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		sendErrs: map[int]error{},
		mineOn:   map[int]uint64{},
		receipts: map[common.Hash]*types.Receipt{},
	}
}

func (c *fakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := len(c.sent)
	c.sent = append(c.sent, tx)
	if err, ok := c.sendErrs[i]; ok {
		return err
	}
	if status, ok := c.mineOn[i]; ok {
		c.receipts[tx.Hash()] = &types.Receipt{Status: status, TxHash: tx.Hash(), BlockNumber: big.NewInt(100)}
	}
	return nil
}

func (c *fakeChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (c *fakeChain) sentTxs() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

type memJournal struct {
	mu      sync.Mutex
	records []model.TxRecord
}

func (j *memJournal) Record(rec model.TxRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
}

func (j *memJournal) states() []model.TxState {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]model.TxState, 0, len(j.records))
	for _, r := range j.records {
		out = append(out, r.State)
	}
	return out
}

type memAlerts struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (m *memAlerts) Notify(ctx context.Context, a alert.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
}

func (m *memAlerts) kinds() []alert.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]alert.Kind, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, a.Kind)
	}
	return out
}

type submitterFixture struct {
	chain   *fakeChain
	src     *fakeNonceSource
	nonces  *NonceAllocator
	journal *memJournal
	alerts  *memAlerts
	signer  *signer.Signer
	sub     *TransactionSubmitter
}

func newSubmitterFixture(t *testing.T, pending uint64) *submitterFixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := signer.NewSigner(common.Bytes2Hex(crypto.FromECDSA(key)), 137)
	require.NoError(t, err)

	f := &submitterFixture{
		chain:   newFakeChain(),
		src:     newSource(pending),
		journal: &memJournal{},
		alerts:  &memAlerts{},
		signer:  s,
	}
	f.nonces = NewNonceAllocator(repository.NewMemoryStore(), f.src)
	gas := defaultPolicy(&fakeFees{base: GweiToWei(40), estimate: 50000})
	f.sub = NewTransactionSubmitter(f.chain, s, f.nonces, gas, SubmitterConfig{
		ConfirmTimeout: 30 * time.Millisecond,
		PollInterval:   2 * time.Millisecond,
		MaxAttempts:    3,
		BackoffBase:    time.Millisecond,
	}).WithJournal(f.journal).WithAlerts(f.alerts)
	f.sub.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return f
}

var target = common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")

func TestSendConfirmedFirstAttempt(t *testing.T) {
	f := newSubmitterFixture(t, 5)
	f.chain.mineOn[0] = types.ReceiptStatusSuccessful

	res, err := f.sub.Send(context.Background(), TxRequest{To: target, Data: []byte{0x01}})
	require.NoError(t, err)
	assert.Equal(t, model.TxConfirmed, res.State)
	assert.Equal(t, uint64(5), res.Nonce)
	assert.Equal(t, 1, res.Attempts)
	require.NotNil(t, res.Receipt)
	assert.Len(t, res.ID, 36)

	assert.Equal(t, []model.TxState{model.TxBuilding, model.TxSigned, model.TxSubmitted, model.TxConfirmed}, f.journal.states())

	sent := f.chain.sentTxs()
	require.Len(t, sent, 1)
	assert.Equal(t, uint64(60000), sent[0].Gas())
	assert.Equal(t, GweiToWei(74).String(), sent[0].GasFeeCap().String())

	rec, err := f.nonces.Record(context.Background(), f.signer.Address())
	require.NoError(t, err)
	assert.Equal(t, []uint64{5}, rec.Used)
}

func TestSendDroppedRetriesSameNonceWithBump(t *testing.T) {
	f := newSubmitterFixture(t, 5)
	f.chain.mineOn[1] = types.ReceiptStatusSuccessful

	res, err := f.sub.Send(context.Background(), TxRequest{To: target, GasLimit: 21000})
	require.NoError(t, err)
	assert.Equal(t, model.TxConfirmed, res.State)
	assert.Equal(t, 2, res.Attempts)

	sent := f.chain.sentTxs()
	require.Len(t, sent, 2)
	assert.Equal(t, sent[0].Nonce(), sent[1].Nonce())
	assert.Equal(t, uint64(21000), sent[1].Gas())

	minCap := new(big.Int).Div(new(big.Int).Mul(sent[0].GasFeeCap(), big.NewInt(1125)), big.NewInt(1000))
	assert.True(t, sent[1].GasFeeCap().Cmp(minCap) >= 0, "replacement fee %s below %s", sent[1].GasFeeCap(), minCap)
	assert.Contains(t, f.journal.states(), model.TxDropped)
}

func TestSendExhaustedReturnsTxDropped(t *testing.T) {
	f := newSubmitterFixture(t, 0)

	res, err := f.sub.Send(context.Background(), TxRequest{To: target, GasLimit: 21000})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.TxDropped))
	assert.Equal(t, model.TxDropped, res.State)
	assert.True(t, res.Broadcast)
	assert.Len(t, f.chain.sentTxs(), 3)
	for _, tx := range f.chain.sentTxs() {
		assert.Equal(t, uint64(0), tx.Nonce())
	}
	assert.Equal(t, []alert.Kind{alert.KindTxDropped}, f.alerts.kinds())

	// a dropped nonce stays allocated and surfaces as a gap
	gaps, err := f.nonces.DetectGaps(context.Background(), f.signer.Address())
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, gaps)
}

func TestSendRevertedIsTerminal(t *testing.T) {
	f := newSubmitterFixture(t, 2)
	f.chain.mineOn[0] = types.ReceiptStatusFailed

	res, err := f.sub.Send(context.Background(), TxRequest{To: target, GasLimit: 21000})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.Terminal))
	assert.Equal(t, model.TxFailed, res.State)
	assert.Len(t, f.chain.sentTxs(), 1)
	assert.Equal(t, []alert.Kind{alert.KindTxFailed}, f.alerts.kinds())

	rec, err := f.nonces.Record(context.Background(), f.signer.Address())
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, rec.Used)
}

func TestSendNonceTooLowTakesFreshNonce(t *testing.T) {
	f := newSubmitterFixture(t, 5)
	ctx := context.Background()
	_, err := f.nonces.Next(ctx, f.signer.Address()) // seeds at 5, counter now 6
	require.NoError(t, err)

	f.src.pending.Store(9)
	f.chain.sendErrs[0] = errors.New("nonce too low: next nonce 9, tx nonce 6")
	f.chain.mineOn[1] = types.ReceiptStatusSuccessful

	res, err := f.sub.Send(ctx, TxRequest{To: target, GasLimit: 21000})
	require.NoError(t, err)
	assert.Equal(t, uint64(9), res.Nonce)

	sent := f.chain.sentTxs()
	require.Len(t, sent, 2)
	assert.Equal(t, uint64(6), sent[0].Nonce())
	assert.Equal(t, uint64(9), sent[1].Nonce())
}

func TestSendRejectedByNodeIsTerminal(t *testing.T) {
	f := newSubmitterFixture(t, 0)
	f.chain.sendErrs[0] = errors.New("insufficient funds for gas * price + value")

	res, err := f.sub.Send(context.Background(), TxRequest{To: target, GasLimit: 21000})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.Terminal))
	assert.Equal(t, model.TxFailed, res.State)
	assert.Len(t, f.chain.sentTxs(), 1)
}

func TestSendNoWaitReturnsSubmitted(t *testing.T) {
	f := newSubmitterFixture(t, 1)

	res, err := f.sub.Send(context.Background(), TxRequest{To: target, GasLimit: 21000}, NoWait())
	require.NoError(t, err)
	assert.Equal(t, model.TxSubmitted, res.State)
	assert.True(t, res.Broadcast)
	assert.NotEqual(t, common.Hash{}, res.Hash)
	assert.Nil(t, res.Receipt)
}

func TestSendNeverBroadcastWhenGasQuoteFails(t *testing.T) {
	f := newSubmitterFixture(t, 0)
	f.sub.gas = defaultPolicy(&fakeFees{baseErr: errors.New("rpc down")})

	res, err := f.sub.Send(context.Background(), TxRequest{To: target, GasLimit: 21000})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.TxDropped))
	assert.Equal(t, model.TxDropped, res.State)
	assert.False(t, res.Broadcast)
	assert.Empty(t, f.chain.sentTxs())
}

func TestSendCancelledWhileWaiting(t *testing.T) {
	f := newSubmitterFixture(t, 0)
	f.sub.cfg.ConfirmTimeout = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := f.sub.Send(ctx, TxRequest{To: target, GasLimit: 21000})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, model.TxSubmitted, res.State)
}

func TestClassifySendError(t *testing.T) {
	cases := map[string]sendErrorKind{
		"already known":                            sendKnown,
		"nonce too low":                            sendNonceTooLow,
		"replacement transaction underpriced":      sendUnderpriced,
		"max fee per gas less than block base fee": sendUnderpriced,
		"insufficient funds for transfer":          sendTerminal,
		"intrinsic gas too low":                    sendTerminal,
		"connection refused":                       sendTransient,
	}
	for msg, want := range cases {
		assert.Equal(t, want, classifySendError(errors.New(msg)), msg)
	}
}
