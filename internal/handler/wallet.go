package handler

import (
	"net/http"

	"github.com/GoPolymarket/polyguard/internal/model"
	"github.com/GoPolymarket/polyguard/internal/wallet"
	"github.com/gin-gonic/gin"
)

type WalletHandler struct {
	wallet *wallet.Manager
}

func NewWalletHandler(w *wallet.Manager) *WalletHandler {
	return &WalletHandler{wallet: w}
}

type WalletView struct {
	model.LedgerSnapshot
	TargetHot      string               `json:"target_hot"`
	NeedsRebalance bool                 `json:"needs_rebalance"`
	Rebalance      *model.RebalancePlan `json:"rebalance,omitempty"`
}

func (h *WalletHandler) Get(c *gin.Context) {
	l := h.wallet.Ledger()
	view := WalletView{
		LedgerSnapshot: l.Snapshot(),
		TargetHot:      l.TargetHot().StringFixed(2),
	}
	if plan, needed := h.wallet.CheckRebalance(c.Request.Context()); needed {
		view.NeedsRebalance = true
		view.Rebalance = &plan
	}
	c.JSON(http.StatusOK, view)
}

func (h *WalletHandler) Rebalance(c *gin.Context) {
	plan, snap, err := h.wallet.ExecuteRebalance(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rebalance": plan, "wallet": snap})
}
