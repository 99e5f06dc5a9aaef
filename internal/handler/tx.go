package handler

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/GoPolymarket/polyguard/internal/manager"
	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/GoPolymarket/polyguard/internal/pkg/apperrors"
	"github.com/GoPolymarket/polyguard/internal/service"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
)

type TxHandler struct {
	journal *service.Journal
	gate    *service.RiskGate
}

func NewTxHandler(journal *service.Journal, gate *service.RiskGate) *TxHandler {
	return &TxHandler{journal: journal, gate: gate}
}

func (h *TxHandler) List(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	records, err := h.journal.List(c.Request.Context(), limit)
	if err != nil {
		c.Error(apperrors.New(apperrors.ErrInternal, err.Error(), err))
		return
	}
	if records == nil {
		records = []model.TxRecord{}
	}
	c.JSON(http.StatusOK, records)
}

// ExecuteRequest is a gated trade plus the contract call that places it.
type ExecuteRequest struct {
	Trade    model.TradeRequest `json:"trade"`
	To       string             `json:"to" binding:"required"`
	Data     string             `json:"data"`  // 0x hex calldata
	Value    string             `json:"value"` // wei, decimal string
	GasLimit uint64             `json:"gas_limit"`
	NoWait   bool               `json:"no_wait"`
}

type ExecuteResponse struct {
	Verdict model.Verdict       `json:"verdict"`
	Tx      *manager.SendResult `json:"tx,omitempty"`
}

func (h *TxHandler) Execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	if !common.IsHexAddress(req.To) {
		c.Error(apperrors.NewInvalidRequest("to must be a 0x-prefixed hex address"))
		return
	}
	tx := manager.TxRequest{To: common.HexToAddress(req.To), GasLimit: req.GasLimit}
	if req.Data != "" {
		data, err := hexutil.Decode(req.Data)
		if err != nil {
			c.Error(apperrors.NewInvalidRequest("data: " + err.Error()))
			return
		}
		tx.Data = data
	}
	if req.Value != "" {
		v, ok := new(big.Int).SetString(req.Value, 10)
		if !ok || v.Sign() < 0 {
			c.Error(apperrors.NewInvalidRequest("value must be a non-negative integer in wei"))
			return
		}
		tx.Value = v
	}

	var opts []manager.SendOption
	if req.NoWait {
		opts = append(opts, manager.NoWait())
	}
	verdict, res, err := h.gate.Execute(c.Request.Context(), req.Trade, tx, opts...)
	if err != nil {
		c.Error(err)
		return
	}
	resp := ExecuteResponse{Verdict: verdict}
	if verdict.Allowed {
		resp.Tx = &res
	}
	c.JSON(http.StatusOK, resp)
}
