package service

import (
	"context"
	"fmt"

	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/GoPolymarket/polyguard/internal/pkg/apperrors"
	"github.com/shopspring/decimal"
)

var one = decimal.NewFromInt(1)

// Exchange is the order venue a strategy trades on. Strategies own the
// concrete client; the gate only places orders through it after a check.
type Exchange interface {
	PlaceOrder(ctx context.Context, order model.Order) (orderID string, err error)
	OrderStatus(ctx context.Context, orderID string) (model.OrderStatus, error)
}

func WithExchange(ex Exchange) RiskGateOption {
	return func(g *RiskGate) { g.exchange = ex }
}

func validateOrder(o model.Order) error {
	if o.MarketID == "" {
		return apperrors.NewInvalidRequest("market_id is required")
	}
	if o.Side != model.SideBuy && o.Side != model.SideSell {
		return apperrors.NewInvalidRequest(fmt.Sprintf("side must be BUY or SELL, got %q", o.Side))
	}
	if !o.Size.IsPositive() {
		return apperrors.NewInvalidRequest("size must be positive")
	}
	// 二元市场价格在 (0, 1)
	if !o.Price.IsPositive() || o.Price.GreaterThanOrEqual(one) {
		return apperrors.NewInvalidRequest("price must be within (0, 1)")
	}
	return nil
}

// PlaceOrder authorizes req and, only when allowed, sends order to the
// exchange. A denial returns the verdict with an empty order id.
func (g *RiskGate) PlaceOrder(ctx context.Context, req model.TradeRequest, order model.Order) (model.Verdict, string, error) {
	if g.exchange == nil {
		return model.Verdict{}, "", apperrors.NewInvalidState("no exchange configured")
	}
	if err := validateOrder(order); err != nil {
		return model.Verdict{}, "", err
	}

	verdict, err := g.Authorize(ctx, req)
	if err != nil || !verdict.Allowed {
		return verdict, "", err
	}

	id, err := g.exchange.PlaceOrder(ctx, order)
	if err != nil {
		g.log.Warn("Order placement failed", "bot_id", req.BotID, "market_id", order.MarketID, "error", err)
		return verdict, "", apperrors.NewTransient("exchange rejected order", err)
	}
	g.log.Info("Order placed", "bot_id", req.BotID, "market_id", order.MarketID, "order_id", id,
		"side", string(order.Side), "size", order.Size.String(), "price", order.Price.String())
	return verdict, id, nil
}

// OrderStatus proxies to the exchange so callers need one handle.
func (g *RiskGate) OrderStatus(ctx context.Context, orderID string) (model.OrderStatus, error) {
	if g.exchange == nil {
		return model.OrderUnknown, apperrors.NewInvalidState("no exchange configured")
	}
	return g.exchange.OrderStatus(ctx, orderID)
}
