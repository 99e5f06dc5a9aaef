package service

import (
	"context"
	"errors"
	"testing"

	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/GoPolymarket/polyguard/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExchange struct {
	placed []model.Order
	err    error
	status map[string]model.OrderStatus
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, order model.Order) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.placed = append(f.placed, order)
	return "order-1", nil
}

func (f *fakeExchange) OrderStatus(ctx context.Context, orderID string) (model.OrderStatus, error) {
	if s, ok := f.status[orderID]; ok {
		return s, nil
	}
	return model.OrderUnknown, nil
}

func buyOrder() model.Order {
	return model.Order{MarketID: "mkt-1", Side: model.SideBuy, Size: d("10"), Price: d("0.42"), PostOnly: true}
}

func TestPlaceOrderGoesThroughGate(t *testing.T) {
	ex := &fakeExchange{status: map[string]model.OrderStatus{"order-1": model.OrderLive}}
	g, _, _ := newGate(t, WithExchange(ex))
	ctx := context.Background()

	v, id, err := g.PlaceOrder(ctx, trade(8, 2, "9000", "10000"), buyOrder())
	require.NoError(t, err)
	assert.True(t, v.Allowed)
	assert.Equal(t, "order-1", id)
	require.Len(t, ex.placed, 1)
	assert.True(t, ex.placed[0].PostOnly)

	st, err := g.OrderStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.OrderLive, st)
}

func TestPlaceOrderDeniedNeverReachesExchange(t *testing.T) {
	ex := &fakeExchange{}
	g, _, _ := newGate(t, WithExchange(ex))

	v, id, err := g.PlaceOrder(context.Background(), trade(8, 5, "9000", "10000"), buyOrder())
	require.NoError(t, err)
	assert.False(t, v.Allowed)
	assert.Equal(t, model.ReasonZoneBlocked, v.Code)
	assert.Empty(t, id)
	assert.Empty(t, ex.placed)
}

func TestPlaceOrderValidation(t *testing.T) {
	ex := &fakeExchange{}
	g, _, _ := newGate(t, WithExchange(ex))

	tests := []struct {
		name  string
		order func(o *model.Order)
	}{
		{"missing market", func(o *model.Order) { o.MarketID = "" }},
		{"bad side", func(o *model.Order) { o.Side = "HOLD" }},
		{"zero size", func(o *model.Order) { o.Size = d("0") }},
		{"price at one", func(o *model.Order) { o.Price = d("1") }},
		{"negative price", func(o *model.Order) { o.Price = d("-0.1") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := buyOrder()
			tt.order(&o)
			_, _, err := g.PlaceOrder(context.Background(), trade(8, 2, "9000", "10000"), o)
			assert.True(t, apperrors.IsType(err, apperrors.ErrInvalidRequest))
		})
	}
	assert.Empty(t, ex.placed)
}

func TestPlaceOrderExchangeFailure(t *testing.T) {
	g, _, _ := newGate(t, WithExchange(&fakeExchange{err: errors.New("502")}))

	v, id, err := g.PlaceOrder(context.Background(), trade(8, 2, "9000", "10000"), buyOrder())
	assert.True(t, v.Allowed)
	assert.Empty(t, id)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTransientNetwork))
}

func TestPlaceOrderWithoutExchange(t *testing.T) {
	g, _, _ := newGate(t)

	_, _, err := g.PlaceOrder(context.Background(), trade(8, 2, "9000", "10000"), buyOrder())
	assert.True(t, apperrors.IsType(err, apperrors.ErrInvalidState))
	_, err = g.OrderStatus(context.Background(), "x")
	assert.True(t, apperrors.IsType(err, apperrors.ErrInvalidState))
}
