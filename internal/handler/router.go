package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"settlement-gateway/internal/metrics"
	"settlement-gateway/pkg/middleware"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type RouterConfig struct {
	Intents  *IntentHandler
	Webhooks *WebhookHandler
	Accounts *AccountHandler
	// Sandbox is only mounted outside production.
	Sandbox *SandboxHandler
	Ready   map[string]ReadinessCheck
	Log     *zap.Logger
}

// NewRouter wires every route onto a fresh engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(cfg.Log))
	router.Use(middleware.Recovery(cfg.Log))
	router.Use(requestMetrics())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/ready", readiness(cfg.Ready))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/webhooks/:gateway", cfg.Webhooks.HandleWebhook)

		intents := v1.Group("/intents")
		intents.POST("", cfg.Intents.CreateIntent)
		intents.GET("/by-order/:orderNumber", cfg.Intents.GetIntentByOrder)
		intents.GET("/:id", cfg.Intents.GetIntent)
		intents.POST("/:id/reconcile", cfg.Intents.ReconcileIntent)
		intents.GET("/:id/webhooks", cfg.Intents.ListWebhooks)
		intents.GET("/:id/entries", cfg.Accounts.ListIntentEntries)

		accounts := v1.Group("/accounts")
		accounts.GET("/:id/balance", cfg.Accounts.GetBalance)
		accounts.GET("/:id/entries", cfg.Accounts.ListEntries)
		accounts.GET("/:id/reconciliation", cfg.Accounts.Reconcile)
	}

	if cfg.Sandbox != nil {
		router.POST("/sandbox/payments/:id", cfg.Sandbox.SetStatus)
	}

	return router
}

func readiness(checks map[string]ReadinessCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		failed := gin.H{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "failed": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// requestMetrics records counts and latency by route template.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
