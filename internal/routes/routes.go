// internal/routes/routes.go
package routes

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"instrument-service/internal/config"
	"instrument-service/internal/database"
	internalDriver "instrument-service/internal/driver"
	"instrument-service/internal/handler"
	"instrument-service/internal/middleware"
	"instrument-service/internal/service"
	"instrument-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config            *config.Config
	logger            *zap.Logger
	db                *database.DB
	instrumentService *service.InstrumentService
	discoveryService  *service.DiscoveryService
	registry          *internalDriver.Registry
	eventBus          *service.EventBus
	wsHandler         *handler.WebSocketHandler
}

// NewRouter creates a new router instance. db may be nil.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db *database.DB,
	instrumentService *service.InstrumentService,
	discoveryService *service.DiscoveryService,
	registry *internalDriver.Registry,
	eventBus *service.EventBus,
) *Router {
	return &Router{
		config:            config,
		logger:            logger,
		db:                db,
		instrumentService: instrumentService,
		discoveryService:  discoveryService,
		registry:          registry,
		eventBus:          eventBus,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	switch {
	case r.config.App.Environment == "test":
		gin.SetMode(gin.TestMode)
	case r.config.IsDebugEnabled():
		gin.SetMode(gin.DebugMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// Shutdown disconnects the WebSocket clients of the router built by
// SetupRouter
func (r *Router) Shutdown(ctx context.Context) error {
	if r.wsHandler == nil {
		return nil
	}
	return r.wsHandler.Shutdown(ctx)
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(r.config.Server.AllowedOrigins))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.db, r.instrumentService, r.config, r.logger)
	instrumentHandler := handler.NewInstrumentHandler(r.instrumentService, r.logger)
	discoveryHandler := handler.NewDiscoveryHandler(r.discoveryService, r.registry, r.logger)
	r.wsHandler = handler.NewWebSocketHandler(r.instrumentService, r.eventBus, r.config.Server.AllowedOrigins, r.logger)

	r.addHealthRoutes(router, healthHandler)

	apiV1 := router.Group("/api/v1")
	r.addInstrumentRoutes(apiV1, instrumentHandler)
	r.addDiscoveryRoutes(apiV1, discoveryHandler)
	apiV1.GET("/events", instrumentHandler.ListEvents)

	r.addWebSocketRoutes(router, r.wsHandler)
	r.addDocumentationRoutes(router)

	r.logger.Info("All routes configured successfully")
}

// addHealthRoutes sets up health check routes
func (r *Router) addHealthRoutes(router *gin.Engine, handler *handler.HealthHandler) {
	health := router.Group("")
	{
		health.GET("/health", handler.HealthCheck)
		health.GET("/ready", handler.ReadinessCheck)
		health.GET("/live", handler.LivenessCheck)
	}
}

// addInstrumentRoutes sets up instrument routes
func (r *Router) addInstrumentRoutes(api *gin.RouterGroup, h *handler.InstrumentHandler) {
	instruments := api.Group("/instruments")
	{
		instruments.GET("", h.ListInstruments)

		instrument := instruments.Group("/:name")
		{
			// Connection
			instrument.GET("", h.GetInstrument)
			instrument.POST("/connect", h.ConnectInstrument)
			instrument.POST("/scan", h.ScanInstrument)
			instrument.POST("/disconnect", h.DisconnectInstrument)
			instrument.GET("/alive", h.IsAlive)
			instrument.GET("/stats", h.GetStats)

			// Device state
			instrument.POST("/begin", h.BeginInstrument)
			instrument.POST("/poll", h.PollInstrument)

			// Raw transactions
			instrument.POST("/query", h.QueryInstrument)
			instrument.POST("/write", h.WriteInstrument)

			instrument.GET("/commands", h.ListCommands)
			instrument.POST("/commands", h.ExecuteCommand)

			instrument.GET("/registers", h.ListRegisters)
			instrument.GET("/registers/:address", h.ReadRegister)
			instrument.PUT("/registers/:address", h.WriteRegister)

			instrument.GET("/errors", h.GetErrors)
			instrument.DELETE("/errors", h.AcknowledgeErrors)
		}
	}
}

// addDiscoveryRoutes sets up port discovery routes
func (r *Router) addDiscoveryRoutes(api *gin.RouterGroup, handler *handler.DiscoveryHandler) {
	discovery := api.Group("/discovery")
	{
		discovery.GET("/ports", handler.ScanPorts)
		discovery.GET("/scanners", handler.GetScanners)
		discovery.GET("/drivers", handler.GetDrivers)
	}
}

// addWebSocketRoutes sets up WebSocket routes
func (r *Router) addWebSocketRoutes(router *gin.Engine, handler *handler.WebSocketHandler) {
	ws := router.Group("/ws")
	{
		ws.GET("/events", handler.HandleEventConnection)
		ws.GET("/instruments/:name", handler.HandleInstrumentConnection)
		ws.GET("/stats", handler.Stats)
	}
}

// addDocumentationRoutes sets up documentation routes
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}
