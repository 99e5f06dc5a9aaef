package alert

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

type Kind string

const (
	KindCircuitBreaker  Kind = "circuit_breaker_triggered"
	KindEmergencyStop   Kind = "emergency_stop"
	KindEmergencyReset  Kind = "emergency_reset"
	KindBotReset        Kind = "bot_reset"
	KindTxFailed        Kind = "tx_failed"
	KindTxDropped       Kind = "tx_dropped"
	KindNonceGap        Kind = "nonce_gap"
	KindLowBalance      Kind = "low_balance"
	KindRebalanceNeeded Kind = "rebalance_needed"
)

// Alert is one operator notification. ID is a ULID, so IDs sort by time.
type Alert struct {
	ID       string         `json:"id"`
	Kind     Kind           `json:"kind"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Fields   map[string]any `json:"fields,omitempty"`
	At       time.Time      `json:"at"`
}

func New(kind Kind, sev Severity, msg string, fields map[string]any) Alert {
	return Alert{
		ID:       ulid.Make().String(),
		Kind:     kind,
		Severity: sev,
		Message:  msg,
		Fields:   fields,
		At:       time.Now().UTC(),
	}
}

// Sink is fire-and-forget: Notify must not block on delivery and never
// reports failure back to the caller.
type Sink interface {
	Notify(ctx context.Context, a Alert)
}

type Nop struct{}

func (Nop) Notify(context.Context, Alert) {}

// LogSink writes alerts to the structured log at a level derived from severity.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Notify(ctx context.Context, a Alert) {
	level := slog.LevelInfo
	switch a.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityError, SeverityCritical:
		level = slog.LevelError
	}
	args := []any{"alert_id", a.ID, "kind", string(a.Kind), "severity", string(a.Severity)}
	for k, v := range a.Fields {
		args = append(args, k, v)
	}
	s.log.Log(ctx, level, a.Message, args...)
}

// Multi fans one alert out to every sink.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, a Alert) {
	for _, s := range m {
		s.Notify(ctx, a)
	}
}
