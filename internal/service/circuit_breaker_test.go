package service

import (
	"strings"
	"testing"

	"github.com/GoPolymarket/polyguard/internal/config"
	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func cleanInput() BreakerInput {
	return BreakerInput{
		BotID:                8,
		Zone:                 2,
		ConsecutiveLosses:    2,
		DailyPnLPct:          d("-3.0"),
		BotDrawdownPct:       d("10.0"),
		PortfolioDrawdownPct: d("5.0"),
	}
}

func TestEvaluateAllowsCleanState(t *testing.T) {
	cb := NewCircuitBreaker(DefaultThresholds())

	v := cb.Evaluate(cleanInput())
	assert.True(t, v.Allowed)
	assert.Empty(t, v.Reason)
	assert.Equal(t, model.ReasonNone, v.Code)
}

func TestEvaluateCheckOrder(t *testing.T) {
	cb := NewCircuitBreaker(DefaultThresholds())

	tests := []struct {
		name   string
		mutate func(*BreakerInput)
		want   model.ReasonCode
	}{
		{"losses beat everything", func(in *BreakerInput) {
			in.ConsecutiveLosses = 3
			in.DailyPnLPct = d("-50")
			in.BotDrawdownPct = d("90")
			in.PortfolioDrawdownPct = d("90")
			in.Zone = 5
		}, model.ReasonConsecutiveLosses},
		{"daily loss before drawdown", func(in *BreakerInput) {
			in.DailyPnLPct = d("-5.0")
			in.BotDrawdownPct = d("30")
			in.PortfolioDrawdownPct = d("45")
		}, model.ReasonDailyLoss},
		{"bot drawdown before portfolio", func(in *BreakerInput) {
			in.BotDrawdownPct = d("25.0")
			in.PortfolioDrawdownPct = d("45")
		}, model.ReasonBotDrawdown},
		{"portfolio drawdown before zone", func(in *BreakerInput) {
			in.PortfolioDrawdownPct = d("40.0")
			in.Zone = 4
		}, model.ReasonPortfolioDrawdown},
		{"zone last", func(in *BreakerInput) {
			in.Zone = 4
		}, model.ReasonZoneBlocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := cleanInput()
			tt.mutate(&in)
			v := cb.Evaluate(in)
			require.False(t, v.Allowed)
			assert.Equal(t, tt.want, v.Code)
			assert.True(t, strings.Contains(v.Reason, string(tt.want)), v.Reason)
		})
	}
}

func TestEvaluateConsecutiveLossesAlwaysDenies(t *testing.T) {
	cb := NewCircuitBreaker(DefaultThresholds())
	for losses := 3; losses < 10; losses++ {
		for zone := model.Zone(0); zone <= 6; zone++ {
			in := cleanInput()
			in.ConsecutiveLosses = losses
			in.Zone = zone
			v := cb.Evaluate(in)
			require.False(t, v.Allowed)
			require.Equal(t, model.ReasonConsecutiveLosses, v.Code)
		}
	}
}

func TestEvaluateUnsafeZonesNeverAllowed(t *testing.T) {
	cb := NewCircuitBreaker(DefaultThresholds())
	for _, zone := range []model.Zone{4, 5, 0, -1, 9} {
		in := cleanInput()
		in.ConsecutiveLosses = 0
		in.DailyPnLPct = decimal.Zero
		in.BotDrawdownPct = decimal.Zero
		in.PortfolioDrawdownPct = decimal.Zero
		in.Zone = zone
		v := cb.Evaluate(in)
		assert.False(t, v.Allowed, "zone %d", zone)
		assert.Equal(t, model.ReasonZoneBlocked, v.Code)
	}
}

func TestEvaluatePortfolioDrawdownIsEmergency(t *testing.T) {
	cb := NewCircuitBreaker(DefaultThresholds())
	in := cleanInput()
	in.ConsecutiveLosses = 0
	in.PortfolioDrawdownPct = d("41.0")

	v := cb.Evaluate(in)
	require.False(t, v.Allowed)
	assert.True(t, v.Code.IsEmergency())
	assert.Contains(t, v.Reason, "EMERGENCY STOP")
	assert.Contains(t, v.Reason, "41.0%")
}

func TestEvaluateThresholdEdges(t *testing.T) {
	cb := NewCircuitBreaker(DefaultThresholds())

	in := cleanInput()
	in.DailyPnLPct = d("-4.99")
	in.BotDrawdownPct = d("24.99")
	in.PortfolioDrawdownPct = d("39.99")
	assert.True(t, cb.Evaluate(in).Allowed)
}

func TestRecordTradeResult(t *testing.T) {
	cb := NewCircuitBreaker(DefaultThresholds())

	for prev := 0; prev < 6; prev++ {
		assert.Equal(t, 0, cb.RecordTradeResult(true, prev))
		assert.Equal(t, prev+1, cb.RecordTradeResult(false, prev))
	}
	assert.Equal(t, 1, cb.RecordTradeResult(false, -4))
}

func TestThresholdsFromConfig(t *testing.T) {
	th := ThresholdsFromConfig(config.Default().Risk)
	def := DefaultThresholds()

	assert.Equal(t, def.MaxConsecutiveLosses, th.MaxConsecutiveLosses)
	assert.True(t, def.MaxDailyLossPct.Equal(th.MaxDailyLossPct))
	assert.True(t, def.MaxBotDrawdownPct.Equal(th.MaxBotDrawdownPct))
	assert.True(t, def.MaxPortfolioDrawdownPct.Equal(th.MaxPortfolioDrawdownPct))
	assert.Equal(t, def.SafeZones, th.SafeZones)
}

func TestPortfolioDrawdown(t *testing.T) {
	assert.True(t, d("25").Equal(PortfolioDrawdown(d("750"), d("1000"))))
	assert.True(t, PortfolioDrawdown(d("750"), decimal.Zero).IsZero())
	assert.True(t, d("-10").Equal(PortfolioDrawdown(d("1100"), d("1000"))))
}
