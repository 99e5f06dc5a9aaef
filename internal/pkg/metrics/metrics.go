package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink is the metrics surface the core components write to. It is injected
// into each component; nothing registers metrics at import time.
type Sink interface {
	RiskReject(reason string)
	BotStopped(botID int, stopped bool)
	ConsecutiveLosses(botID int, n int)
	PortfolioDrawdown(pct float64)
	EmergencyStop(active bool)
	NonceAllocated(address string)
	NonceGaps(address string, n int)
	TxTransition(state string)
	GasFeeGwei(gwei float64)
	WalletBalance(kind string, amount float64)
	RequestLatency(endpoint string, seconds float64)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RiskReject(string)              {}
func (Nop) BotStopped(int, bool)           {}
func (Nop) ConsecutiveLosses(int, int)     {}
func (Nop) PortfolioDrawdown(float64)      {}
func (Nop) EmergencyStop(bool)             {}
func (Nop) NonceAllocated(string)          {}
func (Nop) NonceGaps(string, int)          {}
func (Nop) TxTransition(string)            {}
func (Nop) GasFeeGwei(float64)             {}
func (Nop) WalletBalance(string, float64)  {}
func (Nop) RequestLatency(string, float64) {}

// Prometheus is a Sink backed by a private registry owned by the process.
type Prometheus struct {
	registry *prometheus.Registry

	riskRejects       *prometheus.CounterVec
	botStopped        *prometheus.GaugeVec
	consecutiveLosses *prometheus.GaugeVec
	portfolioDrawdown prometheus.Gauge
	emergencyStop     prometheus.Gauge
	noncesAllocated   *prometheus.CounterVec
	nonceGaps         *prometheus.GaugeVec
	txTransitions     *prometheus.CounterVec
	gasFee            prometheus.Histogram
	walletBalance     *prometheus.GaugeVec
	latency           *prometheus.HistogramVec
}

func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "polyguard"
	}
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		riskRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_rejects_total",
			Help:      "Trades denied by the circuit breaker, by reason",
		}, []string{"reason"}),
		botStopped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_status",
			Help:      "1 when the bot is stopped by the circuit breaker",
		}, []string{"bot_id"}),
		consecutiveLosses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_losses",
			Help:      "Current consecutive loss streak per bot",
		}, []string{"bot_id"}),
		portfolioDrawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portfolio_drawdown_pct",
			Help:      "Portfolio peak-to-current drawdown percentage",
		}),
		emergencyStop: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "emergency_stop",
			Help:      "1 while the portfolio emergency stop is active",
		}),
		noncesAllocated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonces_allocated_total",
			Help:      "Nonces handed out per signing address",
		}, []string{"address"}),
		nonceGaps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nonce_gaps",
			Help:      "Allocated but unconfirmed nonces per signing address",
		}, []string{"address"}),
		txTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_transitions_total",
			Help:      "Transaction submitter state transitions",
		}, []string{"state"}),
		gasFee: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gas_max_fee_gwei",
			Help:      "Max fee per gas bid, in gwei",
			Buckets:   []float64{10, 25, 50, 75, 100, 150, 250, 500},
		}),
		walletBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wallet_balance",
			Help:      "Capital ledger balances by kind (total, hot, cold)",
		}, []string{"kind"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_latency_seconds",
			Help:      "Admin API latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}

	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.riskRejects, p.botStopped, p.consecutiveLosses, p.portfolioDrawdown,
		p.emergencyStop, p.noncesAllocated, p.nonceGaps, p.txTransitions,
		p.gasFee, p.walletBalance, p.latency,
	)
	return p
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) RiskReject(reason string) {
	p.riskRejects.WithLabelValues(reason).Inc()
}

func (p *Prometheus) BotStopped(botID int, stopped bool) {
	p.botStopped.WithLabelValues(strconv.Itoa(botID)).Set(boolGauge(stopped))
}

func (p *Prometheus) ConsecutiveLosses(botID int, n int) {
	p.consecutiveLosses.WithLabelValues(strconv.Itoa(botID)).Set(float64(n))
}

func (p *Prometheus) PortfolioDrawdown(pct float64) {
	p.portfolioDrawdown.Set(pct)
}

func (p *Prometheus) EmergencyStop(active bool) {
	p.emergencyStop.Set(boolGauge(active))
}

func (p *Prometheus) NonceAllocated(address string) {
	p.noncesAllocated.WithLabelValues(address).Inc()
}

func (p *Prometheus) NonceGaps(address string, n int) {
	p.nonceGaps.WithLabelValues(address).Set(float64(n))
}

func (p *Prometheus) TxTransition(state string) {
	p.txTransitions.WithLabelValues(state).Inc()
}

func (p *Prometheus) GasFeeGwei(gwei float64) {
	p.gasFee.Observe(gwei)
}

func (p *Prometheus) WalletBalance(kind string, amount float64) {
	p.walletBalance.WithLabelValues(kind).Set(amount)
}

func (p *Prometheus) RequestLatency(endpoint string, seconds float64) {
	p.latency.WithLabelValues(endpoint).Observe(seconds)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
