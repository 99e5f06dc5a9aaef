package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/GoPolymarket/polyguard/internal/alert"
	"github.com/GoPolymarket/polyguard/internal/config"
	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/GoPolymarket/polyguard/internal/pkg/apperrors"
	"github.com/GoPolymarket/polyguard/internal/pkg/logger"
	"github.com/GoPolymarket/polyguard/internal/pkg/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// TxChain is the broadcast/receipt half of the chain RPC.
type TxChain interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

type TxSigner interface {
	Address() common.Address
	ChainID() *big.Int
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

type TxJournal interface {
	Record(rec model.TxRecord)
}

type nopJournal struct{}

func (nopJournal) Record(model.TxRecord) {}

// TxRequest is the call to put on chain. GasLimit 0 means estimate.
type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
}

type SendResult struct {
	ID       string        `json:"id"`
	Hash     common.Hash   `json:"tx_hash"`
	Nonce    uint64        `json:"nonce"`
	State    model.TxState `json:"state"`
	Attempts int           `json:"attempts"`
	// Broadcast is set once any signed tx for the live nonce may have reached
	// a node. Such a tx can still be mined whatever State says.
	Broadcast bool           `json:"broadcast"`
	Receipt   *types.Receipt `json:"receipt,omitempty"`
}

type SubmitterConfig struct {
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
}

func SubmitterConfigFrom(cfg config.SubmitterConfig) SubmitterConfig {
	return SubmitterConfig{
		ConfirmTimeout: cfg.ConfirmTimeout,
		PollInterval:   cfg.PollInterval,
		MaxAttempts:    cfg.MaxAttempts,
		BackoffBase:    cfg.BackoffBase,
	}
}

type sendOptions struct {
	noWait bool
}

type SendOption func(*sendOptions)

// NoWait returns as soon as the transaction is SUBMITTED.
func NoWait() SendOption {
	return func(o *sendOptions) { o.noWait = true }
}

// TransactionSubmitter drives BUILDING -> SIGNED -> SUBMITTED -> CONFIRMED |
// DROPPED | FAILED for one signing key. A DROPPED attempt is retried on the
// same nonce with a bumped fee, so at most one attempt can ever execute.
type TransactionSubmitter struct {
	chain   TxChain
	signer  TxSigner
	nonces  *NonceAllocator
	gas     *GasPolicy
	cfg     SubmitterConfig
	journal TxJournal
	alerts  alert.Sink
	metrics metrics.Sink
	log     *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewTransactionSubmitter(chain TxChain, signer TxSigner, nonces *NonceAllocator, gas *GasPolicy, cfg SubmitterConfig) *TransactionSubmitter {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	return &TransactionSubmitter{
		chain:   chain,
		signer:  signer,
		nonces:  nonces,
		gas:     gas,
		cfg:     cfg,
		journal: nopJournal{},
		alerts:  alert.Nop{},
		metrics: metrics.Nop{},
		log:     logger.Component("submitter"),
		sleep:   sleepCtx,
	}
}

func (s *TransactionSubmitter) WithJournal(j TxJournal) *TransactionSubmitter {
	if j != nil {
		s.journal = j
	}
	return s
}

func (s *TransactionSubmitter) WithAlerts(a alert.Sink) *TransactionSubmitter {
	if a != nil {
		s.alerts = a
	}
	return s
}

func (s *TransactionSubmitter) WithMetrics(m metrics.Sink) *TransactionSubmitter {
	if m != nil {
		s.metrics = m
	}
	return s
}

func (s *TransactionSubmitter) Address() common.Address {
	return s.signer.Address()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// attempt carries the per-submission state across retries.
type attempt struct {
	id       string
	nonce    uint64
	gasLimit uint64
	quote    *GasQuote
	hashes   []common.Hash // every broadcast for the current nonce
	n        int
}

func (s *TransactionSubmitter) record(a *attempt, state model.TxState, hash common.Hash, q *GasQuote, block uint64, err error) {
	rec := model.TxRecord{
		ID:          a.id,
		Address:     s.signer.Address().Hex(),
		Nonce:       a.nonce,
		Attempt:     a.n,
		State:       state,
		GasLimit:    a.gasLimit,
		BlockNumber: block,
		CreatedAt:   time.Now().UTC(),
	}
	if hash != (common.Hash{}) {
		rec.Hash = hash.Hex()
	}
	if q != nil {
		rec.MaxFeeWei = q.MaxFeePerGas.String()
		rec.TipWei = q.MaxPriorityFeePerGas.String()
	}
	if err != nil {
		rec.Error = err.Error()
	}
	s.journal.Record(rec)
	s.metrics.TxTransition(string(state))
}

// Send builds, signs, broadcasts and (unless NoWait) waits for the receipt.
// FAILED returns a terminal error; exhausting retries returns a TX_DROPPED
// error and fires an alert.
func (s *TransactionSubmitter) Send(ctx context.Context, req TxRequest, opts ...SendOption) (SendResult, error) {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}

	from := s.signer.Address()
	a := &attempt{id: uuid.NewString()}
	log := s.log.With("id", a.id, "address", from.Hex())

	nonce, err := s.nonces.Next(ctx, from)
	if err != nil {
		return SendResult{ID: a.id}, err
	}
	a.nonce = nonce

	a.gasLimit = req.GasLimit
	if a.gasLimit == 0 {
		a.gasLimit = s.gas.GasLimit(ctx, ethereum.CallMsg{From: from, To: &req.To, Data: req.Data, Value: req.Value})
	}

	var lastErr error
	for a.n = 1; a.n <= s.cfg.MaxAttempts; a.n++ {
		if a.n > 1 {
			backoff := s.cfg.BackoffBase * time.Duration(1<<(a.n-1))
			log.Info("Retrying transaction", "attempt", a.n, "nonce", a.nonce, "backoff", backoff)
			if err := s.sleep(ctx, backoff); err != nil {
				return s.result(a, model.TxDropped, common.Hash{}, nil), err
			}
		}

		// BUILDING
		quote, err := s.gas.Quote(ctx)
		if err != nil {
			lastErr = err
			log.Warn("Gas quote failed", "attempt", a.n, "error", err)
			continue
		}
		if a.quote != nil {
			quote = s.gas.Bump(*a.quote, quote)
		}
		value := req.Value
		if value == nil {
			value = new(big.Int)
		}
		to := req.To
		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:   s.signer.ChainID(),
			Nonce:     a.nonce,
			GasTipCap: quote.MaxPriorityFeePerGas,
			GasFeeCap: quote.MaxFeePerGas,
			Gas:       a.gasLimit,
			To:        &to,
			Value:     value,
			Data:      req.Data,
		})
		s.record(a, model.TxBuilding, common.Hash{}, &quote, 0, nil)

		// SIGNED
		signed, err := s.signer.SignTx(tx)
		if err != nil {
			return s.result(a, model.TxFailed, common.Hash{}, nil), apperrors.NewTerminal("failed to sign transaction", err)
		}
		s.record(a, model.TxSigned, signed.Hash(), &quote, 0, nil)

		// SUBMITTED
		if err := s.chain.SendTransaction(ctx, signed); err != nil {
			switch classifySendError(err) {
			case sendKnown:
				// identical tx already in the pool; treat as submitted
			case sendNonceTooLow:
				if res, done, ferr := s.checkPrevious(ctx, a, log); done {
					return res, ferr
				}
				if err := s.renewNonce(ctx, a, from); err != nil {
					return s.result(a, model.TxDropped, common.Hash{}, nil), err
				}
				lastErr = err
				log.Warn("Nonce consumed elsewhere, allocated a new one", "nonce", a.nonce)
				continue
			case sendUnderpriced:
				a.quote = &quote
				lastErr = apperrors.NewTransient("replacement underpriced", err)
				s.record(a, model.TxDropped, signed.Hash(), &quote, 0, err)
				continue
			case sendTerminal:
				s.record(a, model.TxFailed, signed.Hash(), &quote, 0, err)
				s.notifyFailed(ctx, a, signed.Hash(), err.Error())
				return s.result(a, model.TxFailed, signed.Hash(), nil), apperrors.NewTerminal("transaction rejected by node", err)
			default:
				// may or may not have reached the pool: keep watching its hash
				lastErr = apperrors.NewTransient("send transaction failed", err)
				a.hashes = append(a.hashes, signed.Hash())
				a.quote = &quote
				s.record(a, model.TxDropped, signed.Hash(), &quote, 0, err)
				log.Warn("Send failed", "attempt", a.n, "error", err)
				continue
			}
		}
		a.hashes = append(a.hashes, signed.Hash())
		a.quote = &quote
		s.record(a, model.TxSubmitted, signed.Hash(), &quote, 0, nil)
		log.Info("Transaction submitted", "tx_hash", signed.Hash().Hex(), "nonce", a.nonce, "attempt", a.n)

		if o.noWait {
			return s.result(a, model.TxSubmitted, signed.Hash(), nil), nil
		}

		receipt, err := s.waitReceipt(ctx, a.hashes)
		if err != nil {
			// caller gave up; the broadcast cannot be recalled
			return s.result(a, model.TxSubmitted, signed.Hash(), nil), err
		}
		if receipt != nil {
			return s.finish(ctx, a, receipt, log)
		}

		// DROPPED
		lastErr = fmt.Errorf("no receipt within %s", s.cfg.ConfirmTimeout)
		s.record(a, model.TxDropped, signed.Hash(), &quote, 0, lastErr)
		log.Warn("Transaction not confirmed in time", "tx_hash", signed.Hash().Hex(), "attempt", a.n)
	}

	// one last look: a late replacement may have landed during backoff
	if res, done, ferr := s.checkPrevious(ctx, a, log); done {
		return res, ferr
	}

	s.alerts.Notify(ctx, alert.New(alert.KindTxDropped, alert.SeverityError,
		fmt.Sprintf("transaction %s dropped after %d attempts", a.id, s.cfg.MaxAttempts),
		map[string]any{"id": a.id, "address": from.Hex(), "nonce": a.nonce, "error": errString(lastErr)}))
	log.Error("Transaction dropped, retries exhausted", "nonce", a.nonce, "error", lastErr)
	return s.result(a, model.TxDropped, s.lastHash(a), nil),
		apperrors.New(apperrors.ErrTxDropped, fmt.Sprintf("transaction dropped after %d attempts", s.cfg.MaxAttempts), lastErr)
}

func (s *TransactionSubmitter) finish(ctx context.Context, a *attempt, receipt *types.Receipt, log *slog.Logger) (SendResult, error) {
	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	// either outcome consumes the nonce on chain
	if err := s.nonces.MarkUsed(ctx, s.signer.Address(), a.nonce); err != nil {
		log.Warn("Failed to mark nonce used", "nonce", a.nonce, "error", err)
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		s.record(a, model.TxConfirmed, receipt.TxHash, a.quote, block, nil)
		log.Info("Transaction confirmed", "tx_hash", receipt.TxHash.Hex(), "block", block)
		return s.result(a, model.TxConfirmed, receipt.TxHash, receipt), nil
	}

	err := fmt.Errorf("transaction %s reverted in block %d", receipt.TxHash.Hex(), block)
	s.record(a, model.TxFailed, receipt.TxHash, a.quote, block, err)
	s.notifyFailed(ctx, a, receipt.TxHash, err.Error())
	log.Error("Transaction failed on chain", "tx_hash", receipt.TxHash.Hex(), "block", block)
	return s.result(a, model.TxFailed, receipt.TxHash, receipt), apperrors.NewTerminal("transaction failed on chain", err)
}

// checkPrevious looks up receipts for every hash broadcast on the current nonce.
func (s *TransactionSubmitter) checkPrevious(ctx context.Context, a *attempt, log *slog.Logger) (SendResult, bool, error) {
	for _, h := range a.hashes {
		receipt, err := s.chain.TransactionReceipt(ctx, h)
		if err == nil && receipt != nil {
			res, ferr := s.finish(ctx, a, receipt, log)
			return res, true, ferr
		}
	}
	return SendResult{}, false, nil
}

func (s *TransactionSubmitter) renewNonce(ctx context.Context, a *attempt, from common.Address) error {
	if err := s.nonces.Resync(ctx, from); err != nil {
		return err
	}
	nonce, err := s.nonces.Next(ctx, from)
	if err != nil {
		return err
	}
	a.nonce = nonce
	a.quote = nil
	a.hashes = nil
	return nil
}

// waitReceipt polls until one of hashes is mined or the confirm timeout
// passes (nil, nil). Only parent cancellation is returned as an error.
func (s *TransactionSubmitter) waitReceipt(ctx context.Context, hashes []common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		for _, h := range hashes {
			receipt, err := s.chain.TransactionReceipt(waitCtx, h)
			if err == nil && receipt != nil {
				return receipt, nil
			}
			if err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil {
				s.log.Debug("Receipt lookup failed", "tx_hash", h.Hex(), "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, nil
		case <-ticker.C:
		}
	}
}

func (s *TransactionSubmitter) notifyFailed(ctx context.Context, a *attempt, hash common.Hash, reason string) {
	s.alerts.Notify(ctx, alert.New(alert.KindTxFailed, alert.SeverityError,
		fmt.Sprintf("transaction %s failed", a.id),
		map[string]any{"id": a.id, "tx_hash": hash.Hex(), "nonce": a.nonce, "reason": reason}))
}

func (s *TransactionSubmitter) result(a *attempt, state model.TxState, hash common.Hash, receipt *types.Receipt) SendResult {
	return SendResult{
		ID:        a.id,
		Hash:      hash,
		Nonce:     a.nonce,
		State:     state,
		Attempts:  a.n,
		Broadcast: len(a.hashes) > 0,
		Receipt:   receipt,
	}
}

func (s *TransactionSubmitter) lastHash(a *attempt) common.Hash {
	if len(a.hashes) == 0 {
		return common.Hash{}
	}
	return a.hashes[len(a.hashes)-1]
}

type sendErrorKind int

const (
	sendTransient sendErrorKind = iota
	sendKnown
	sendNonceTooLow
	sendUnderpriced
	sendTerminal
)

// classifySendError maps node txpool errors, which arrive as RPC strings.
func classifySendError(err error) sendErrorKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already known"):
		return sendKnown
	case strings.Contains(msg, "nonce too low"):
		return sendNonceTooLow
	case strings.Contains(msg, "underpriced"),
		strings.Contains(msg, "fee cap less than block base fee"),
		strings.Contains(msg, "max fee per gas less than block base fee"):
		return sendUnderpriced
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "intrinsic gas too low"),
		strings.Contains(msg, "exceeds block gas limit"),
		strings.Contains(msg, "invalid sender"),
		strings.Contains(msg, "tip higher than fee cap"),
		strings.Contains(msg, "oversized data"):
		return sendTerminal
	default:
		return sendTransient
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
