package app

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"

	"trainlog/internal/handler"
	"trainlog/internal/middleware"
	internalRedis "trainlog/internal/redis"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	TripHandler   *handler.TripHandler
	TicketHandler *handler.TicketHandler
	AdminHandler  *handler.AdminHandler
	Cache         internalRedis.CacheStoreInterface
	NewRelicApp   *newrelic.Application
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API v1 routes. The acting user is known before the idempotency key
	// is looked up, since keys are per user.
	v1 := router.Group("/v1")
	v1.Use(middleware.UsernameMiddleware())
	v1.Use(middleware.NewRelicAttributes())
	v1.Use(middleware.IdempotencyMiddleware(deps.Cache))
	{
		trips := v1.Group("/trips")
		{
			trips.POST("", deps.TripHandler.CreateTrip)
			trips.POST("/visibility", deps.TripHandler.ChangeVisibility)
			trips.PUT("/:id", deps.TripHandler.UpdateTrip)
			trips.DELETE("/:id", deps.TripHandler.DeleteTrip)
			trips.POST("/:id/duplicate", deps.TripHandler.DuplicateTrip)
			trips.PATCH("/:id/type", deps.TripHandler.UpdateType)
		}

		tickets := v1.Group("/tickets")
		{
			tickets.POST("/:id/attach", deps.TicketHandler.AttachTicket)
			tickets.DELETE("/:id", deps.TicketHandler.DeleteTicket)
		}

		admin := v1.Group("/admin", deps.AdminHandler.RequireOwner)
		{
			admin.GET("/drift/:id", deps.AdminHandler.CompareTrip)
			admin.POST("/migrate", deps.AdminHandler.Migrate)
		}
	}

	return router
}

// Handler builds the HTTP handler for a wired App.
func (a *App) Handler() http.Handler {
	return NewRouter(RouterDeps{
		TripHandler:   handler.NewTripHandler(a.Trips),
		TicketHandler: handler.NewTicketHandler(a.Trips),
		AdminHandler:  handler.NewAdminHandler(a.Detector, a.Migrator, a.Config.Alert.OwnerUsername),
		Cache:         a.Cache,
		NewRelicApp:   a.NewRelic,
	})
}
