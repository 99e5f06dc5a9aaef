package handler

import (
	"net/http"
	"strconv"

	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/GoPolymarket/polyguard/internal/pkg/apperrors"
	"github.com/GoPolymarket/polyguard/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type RiskHandler struct {
	gate *service.RiskGate
}

func NewRiskHandler(gate *service.RiskGate) *RiskHandler {
	return &RiskHandler{gate: gate}
}

func botID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.Error(apperrors.NewInvalidRequest("bot id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (h *RiskHandler) ListBots(c *gin.Context) {
	statuses, err := h.gate.ListStatuses(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, statuses)
}

func (h *RiskHandler) GetBot(c *gin.Context) {
	id, ok := botID(c)
	if !ok {
		return
	}
	status, err := h.gate.GetStatus(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *RiskHandler) ResetBot(c *gin.Context) {
	id, ok := botID(c)
	if !ok {
		return
	}
	st, err := h.gate.ResetBot(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *RiskHandler) UpdateMetrics(c *gin.Context) {
	id, ok := botID(c)
	if !ok {
		return
	}
	var req model.BotMetricsUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	st, err := h.gate.UpdateBotMetrics(c.Request.Context(), id, req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// TradeResultRequest is a settled trade; the bot comes from the path.
type TradeResultRequest struct {
	PnL      decimal.Decimal `json:"pnl"`
	Proceeds decimal.Decimal `json:"proceeds"`
}

func (h *RiskHandler) RecordResult(c *gin.Context) {
	id, ok := botID(c)
	if !ok {
		return
	}
	var req TradeResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	st, err := h.gate.RecordTradeResult(c.Request.Context(), model.TradeResult{
		BotID:    id,
		PnL:      req.PnL,
		Proceeds: req.Proceeds,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Authorize 策略下单前调用；拒绝也返回 200，结果在 verdict 里
func (h *RiskHandler) Authorize(c *gin.Context) {
	var req model.TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	v, err := h.gate.Authorize(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *RiskHandler) ResetDaily(c *gin.Context) {
	if err := h.gate.ResetDaily(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *RiskHandler) Portfolio(c *gin.Context) {
	p, err := h.gate.Portfolio(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type EmergencyStopRequest struct {
	Reason string `json:"reason"`
}

func (h *RiskHandler) EmergencyStop(c *gin.Context) {
	var req EmergencyStopRequest
	// body is optional
	_ = c.ShouldBindJSON(&req)
	if err := h.gate.TriggerEmergencyStop(c.Request.Context(), req.Reason); err != nil {
		c.Error(err)
		return
	}
	p, err := h.gate.Portfolio(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type EmergencyResetRequest struct {
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	PortfolioPeak  decimal.Decimal `json:"portfolio_peak"`
}

func (h *RiskHandler) EmergencyReset(c *gin.Context) {
	var req EmergencyResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	p, err := h.gate.ResetEmergency(c.Request.Context(), req.PortfolioValue, req.PortfolioPeak)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, p)
}
