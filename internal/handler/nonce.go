package handler

import (
	"net/http"

	"github.com/GoPolymarket/polyguard/internal/manager"
	"github.com/GoPolymarket/polyguard/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

type NonceHandler struct {
	nonces *manager.NonceAllocator
	signer common.Address // default address when ?address= is absent
}

func NewNonceHandler(nonces *manager.NonceAllocator, signer common.Address) *NonceHandler {
	return &NonceHandler{nonces: nonces, signer: signer}
}

func (h *NonceHandler) address(c *gin.Context) (common.Address, bool) {
	raw := c.Query("address")
	if raw == "" {
		return h.signer, true
	}
	if !common.IsHexAddress(raw) {
		c.Error(apperrors.NewInvalidRequest("address must be a 0x-prefixed hex address"))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func (h *NonceHandler) Get(c *gin.Context) {
	addr, ok := h.address(c)
	if !ok {
		return
	}
	rec, err := h.nonces.Record(c.Request.Context(), addr)
	if err != nil {
		c.Error(err)
		return
	}
	rec.Address = addr.Hex()
	c.JSON(http.StatusOK, rec)
}

func (h *NonceHandler) Gaps(c *gin.Context) {
	addr, ok := h.address(c)
	if !ok {
		return
	}
	gaps, err := h.nonces.DetectGaps(c.Request.Context(), addr)
	if err != nil {
		c.Error(err)
		return
	}
	if gaps == nil {
		gaps = []uint64{}
	}
	c.JSON(http.StatusOK, gin.H{"address": addr.Hex(), "gaps": gaps})
}

func (h *NonceHandler) Resync(c *gin.Context) {
	addr, ok := h.address(c)
	if !ok {
		return
	}
	next, err := h.nonces.Reset(c.Request.Context(), addr)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr.Hex(), "next_nonce": next})
}
