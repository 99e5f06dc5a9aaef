package manager

import (
	"context"
	"math/big"

	"github.com/GoPolymarket/polyguard/internal/config"
	"github.com/GoPolymarket/polyguard/internal/pkg/apperrors"
	"github.com/GoPolymarket/polyguard/internal/pkg/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/shopspring/decimal"
)

var gwei = decimal.New(1, 9)

// FeeSource is the slice of the chain RPC the gas policy reads.
type FeeSource interface {
	BaseFee(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

type GasPolicyConfig struct {
	MaxGasPrice      *big.Int // wei, hard ceiling for max fee per gas
	PriorityFee      *big.Int // wei
	BaseFeeBuffer    decimal.Decimal
	GasLimitBuffer   decimal.Decimal
	FallbackGasLimit uint64
	ReplacementBump  decimal.Decimal // fraction, 0.125 = +12.5%
}

func GweiToWei(v float64) *big.Int {
	return decimal.NewFromFloat(v).Mul(gwei).BigInt()
}

func WeiToGwei(v *big.Int) float64 {
	return decimal.NewFromBigInt(v, 0).Div(gwei).InexactFloat64()
}

func GasPolicyConfigFrom(cfg config.GasConfig) GasPolicyConfig {
	return GasPolicyConfig{
		MaxGasPrice:      GweiToWei(cfg.MaxGasPriceGwei),
		PriorityFee:      GweiToWei(cfg.PriorityFeeGwei),
		BaseFeeBuffer:    decimal.NewFromFloat(cfg.BaseFeeBuffer),
		GasLimitBuffer:   decimal.NewFromFloat(cfg.GasLimitBuffer),
		FallbackGasLimit: cfg.FallbackGasLimit,
		ReplacementBump:  decimal.NewFromFloat(cfg.ReplacementBump),
	}
}

// GasQuote is an EIP-1559 fee bid.
type GasQuote struct {
	BaseFee              *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Capped               bool
}

type GasPolicy struct {
	src     FeeSource
	cfg     GasPolicyConfig
	metrics metrics.Sink
}

func NewGasPolicy(src FeeSource, cfg GasPolicyConfig, m metrics.Sink) *GasPolicy {
	if m == nil {
		m = metrics.Nop{}
	}
	if cfg.BaseFeeBuffer.IsZero() {
		cfg.BaseFeeBuffer = decimal.NewFromFloat(1.1)
	}
	if cfg.GasLimitBuffer.IsZero() {
		cfg.GasLimitBuffer = decimal.NewFromFloat(1.2)
	}
	if cfg.FallbackGasLimit == 0 {
		cfg.FallbackGasLimit = 300000
	}
	return &GasPolicy{src: src, cfg: cfg, metrics: m}
}

// Quote prices a new transaction: max fee = base fee * buffer + tip, capped
// at the ceiling. The tip never exceeds the max fee.
func (p *GasPolicy) Quote(ctx context.Context) (GasQuote, error) {
	base, err := p.src.BaseFee(ctx)
	if err != nil {
		return GasQuote{}, apperrors.NewTransient("failed to fetch base fee", err)
	}

	maxFee := decimal.NewFromBigInt(base, 0).Mul(p.cfg.BaseFeeBuffer).Ceil().BigInt()
	maxFee.Add(maxFee, p.cfg.PriorityFee)

	q := GasQuote{
		BaseFee:              new(big.Int).Set(base),
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: new(big.Int).Set(p.cfg.PriorityFee),
	}
	p.clamp(&q)
	p.metrics.GasFeeGwei(WeiToGwei(q.MaxFeePerGas))
	return q, nil
}

// Bump prices a same-nonce replacement: each fee is at least the previous
// bid raised by the replacement bump, and at least the fresh quote.
func (p *GasPolicy) Bump(prev, fresh GasQuote) GasQuote {
	factor := decimal.NewFromInt(1).Add(p.cfg.ReplacementBump)
	bumped := func(old, cur *big.Int) *big.Int {
		v := decimal.NewFromBigInt(old, 0).Mul(factor).Ceil().BigInt()
		if cur != nil && cur.Cmp(v) > 0 {
			return new(big.Int).Set(cur)
		}
		return v
	}
	q := GasQuote{
		BaseFee:              fresh.BaseFee,
		MaxFeePerGas:         bumped(prev.MaxFeePerGas, fresh.MaxFeePerGas),
		MaxPriorityFeePerGas: bumped(prev.MaxPriorityFeePerGas, fresh.MaxPriorityFeePerGas),
	}
	p.clamp(&q)
	p.metrics.GasFeeGwei(WeiToGwei(q.MaxFeePerGas))
	return q
}

func (p *GasPolicy) clamp(q *GasQuote) {
	if p.cfg.MaxGasPrice != nil && p.cfg.MaxGasPrice.Sign() > 0 && q.MaxFeePerGas.Cmp(p.cfg.MaxGasPrice) > 0 {
		q.MaxFeePerGas = new(big.Int).Set(p.cfg.MaxGasPrice)
		q.Capped = true
	}
	if q.MaxPriorityFeePerGas.Cmp(q.MaxFeePerGas) > 0 {
		q.MaxPriorityFeePerGas = new(big.Int).Set(q.MaxFeePerGas)
	}
}

// GasLimit pads the node's estimate; a failed estimate falls back to a fixed limit.
func (p *GasPolicy) GasLimit(ctx context.Context, msg ethereum.CallMsg) uint64 {
	est, err := p.src.EstimateGas(ctx, msg)
	if err != nil || est == 0 {
		return p.cfg.FallbackGasLimit
	}
	return decimal.NewFromInt(int64(est)).Mul(p.cfg.GasLimitBuffer).Ceil().BigInt().Uint64()
}
