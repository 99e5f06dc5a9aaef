package handler

import (
	"net/http"

	"github.com/GoPolymarket/polyguard/internal/config"
	"github.com/GoPolymarket/polyguard/internal/manager"
	"github.com/GoPolymarket/polyguard/internal/middleware"
	"github.com/GoPolymarket/polyguard/internal/pkg/logger"
	"github.com/GoPolymarket/polyguard/internal/pkg/metrics"
	"github.com/GoPolymarket/polyguard/internal/service"
	"github.com/GoPolymarket/polyguard/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// Deps are the services behind the admin API. Nonces and Journal may be nil
// when no chain is configured; their routes are then not registered.
type Deps struct {
	Gate           *service.RiskGate
	Wallet         *wallet.Manager
	Nonces         *manager.NonceAllocator
	SignerAddress  common.Address
	Journal        *service.Journal
	Metrics        metrics.Sink
	MetricsHandler http.Handler
	CanExecute     bool
}

func NewRouter(cfg *config.Config, d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.ErrorHandler())
	if d.Metrics != nil {
		r.Use(middleware.MetricsMiddleware(d.Metrics))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "polyguard", "halted": d.Gate.Halted()})
	})
	if cfg.Metrics.Enabled && d.MetricsHandler != nil {
		r.GET(cfg.Metrics.Path, gin.WrapH(d.MetricsHandler))
	}

	risk := NewRiskHandler(d.Gate)

	admin := r.Group("/v1/admin")
	admin.Use(middleware.AdminMiddleware(cfg.Auth.AdminKey))
	admin.Use(middleware.RateLimitMiddleware(cfg.Server.AdminRPS, cfg.Server.AdminBurst))
	admin.Use(middleware.AuditMiddleware(logger.Component("audit")))
	admin.Use(middleware.ReadOnlyMiddleware(cfg.Server.ReadOnly))
	{
		admin.GET("/bots", risk.ListBots)
		admin.GET("/bots/:id", risk.GetBot)
		admin.POST("/bots/:id/reset", risk.ResetBot)
		admin.POST("/bots/:id/metrics", risk.UpdateMetrics)
		admin.POST("/bots/:id/results", risk.RecordResult)
		admin.POST("/authorize", risk.Authorize)
		admin.POST("/daily/reset", risk.ResetDaily)
		admin.GET("/portfolio", risk.Portfolio)
		admin.POST("/emergency/stop", risk.EmergencyStop)
		admin.POST("/emergency/reset", risk.EmergencyReset)

		if d.Wallet != nil {
			w := NewWalletHandler(d.Wallet)
			admin.GET("/wallet", w.Get)
			admin.POST("/wallet/rebalance", w.Rebalance)
		}
		if d.Nonces != nil {
			n := NewNonceHandler(d.Nonces, d.SignerAddress)
			admin.GET("/nonce", n.Get)
			admin.GET("/nonce/gaps", n.Gaps)
			admin.POST("/nonce/resync", n.Resync)
		}
		if d.Journal != nil {
			tx := NewTxHandler(d.Journal, d.Gate)
			admin.GET("/tx", tx.List)
			if d.CanExecute {
				admin.POST("/trades", tx.Execute)
			}
		}
	}
	return r
}
