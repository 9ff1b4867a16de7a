package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"bus-depot-backend/config"
	"bus-depot-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router. A nil gatherer leaves
// /metrics unmounted.
func NewRouter(h *Handler, cfg config.ServerConfig, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)

	// Views change with every movement, so entries only live for a few seconds.
	// Gate sessions and bus positions also change when a fallback timer fires,
	// outside any request, so those routes are never cached.
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(ttl, 10*ttl)
	caching := mw.Cache(cacheStore, ttl,
		"/api/gate/sessions",
		"/api/buses/:plate/instruction",
		"/api/buses/:plate/location",
		"/api/positions",
	)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.Use(rateLimiter, caching)
	{
		api.POST("/gate/events", h.StartGateEvent)
		api.POST("/gate/identify", h.Identify)
		api.GET("/gate/sessions", h.ListSessions)

		buses := api.Group("/buses/:plate")
		buses.POST("/checkpoint", h.MoveToCheckpoint)
		buses.POST("/level", h.ChangeLevel)
		buses.POST("/move-to-allocation", h.MoveToAllocation)
		buses.POST("/move-to-open-bay", h.MoveToOpenBay)
		buses.PUT("/preferences", h.UpdatePreferences)
		buses.GET("/instruction", h.GetInstruction)
		buses.GET("/location", h.Locate)

		api.POST("/allocations", h.Assign)
		api.POST("/allocations/auto", h.AutoAssign)
		api.POST("/allocations/:id/confirm", h.ConfirmParked)

		api.GET("/bays", h.GetBays)
		api.GET("/alerts", h.GetAlerts)
		api.GET("/positions", h.GetPositions)
		api.POST("/admin/reconcile", h.Reconcile)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
