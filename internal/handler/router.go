package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"groupbuy/internal/infrastructure/logger"
	"groupbuy/internal/metrics"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, log *logger.Logger, mode string) *gin.Engine {
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	r := gin.New()

	r.Use(TraceMiddleware())
	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log.Named("access")))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		group := api.Group("/group")
		{
			group.POST("/purchase", h.Purchase)
			group.GET("/detail", h.GetGroup)
			group.GET("/list", h.ListGroups)
			group.POST("/sweep", h.Sweep)
		}

		order := api.Group("/order")
		{
			order.POST("/pay", h.PayOrder)
			order.GET("/detail", h.GetOrder)
			order.GET("/list", h.ListOrders)
		}

		wallet := api.Group("/wallet")
		{
			wallet.GET("/balance", h.GetBalance)
			wallet.POST("/recharge", h.Recharge)
			wallet.GET("/transactions", h.ListTransactions)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	return r
}
