package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/engramhq/engram/internal/engine"
	"github.com/engramhq/engram/internal/logging"
	"github.com/engramhq/engram/pkg/config"
)

// Server is the REST surface over the engine. It holds no core logic: every
// handler translates a request, calls the engine, and maps the result.
type Server struct {
	router     *gin.Engine
	engine     *engine.Engine
	config     *config.Config
	httpServer *http.Server
	log        *logging.Logger
}

// NewServer creates the REST API server over eng.
func NewServer(eng *engine.Engine, cfg *config.Config) *Server {
	log := logging.GetLogger("api")
	log.Info("initializing REST API server")

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogMiddleware(log))
	router.Use(MaxBodySizeMiddleware(DefaultBodyLimit))

	if cfg.RestAPI.CORS {
		log.Debug("enabling CORS")
		corsConfig := cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
			AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:   []string{"Content-Length"},
			MaxAge:          12 * time.Hour,
		}
		router.Use(cors.New(corsConfig))
	}

	s := &Server{
		router: router,
		engine: eng,
		config: cfg,
		log:    log,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.router.Group("/api/v1")

	v1.GET("/health", s.handleHealth)
	v1.GET("/stats", s.handleStats)
	v1.GET("/changelog", s.handleChangelog)

	memories := v1.Group("/memories")
	{
		memories.POST("", s.handleIngest)
		memories.GET("", s.handleListMemories)
		memories.GET("/:id", s.handleGetMemory)
		memories.DELETE("/:id", s.handleDeleteMemory)
		memories.GET("/:id/history", s.handleMemoryHistory)
		memories.POST("/:id/review", s.handleReview)
		memories.GET("/:id/review/preview", s.handleReviewPreview)
		memories.POST("/:id/useful", s.handleMarkUseful)
	}

	v1.POST("/search", s.handleSearch)
	v1.GET("/reviews/due", s.handleDueReviews)

	intentions := v1.Group("/intentions")
	{
		intentions.POST("", s.handleSaveIntention)
		intentions.GET("/due", s.handleDueIntentions)
		intentions.POST("/:id/snooze", s.handleSnoozeIntention)
		intentions.POST("/:id/resolve", s.handleResolveIntention)
	}

	admin := v1.Group("/admin")
	{
		admin.POST("/consolidate", s.handleConsolidate)
		admin.GET("/consolidations", s.handleRecentConsolidations)
		admin.GET("/retention/distribution", s.handleRetentionDistribution)
		admin.GET("/retention/trend", s.handleRetentionTrend)
		admin.GET("/export", s.handleExport)
		admin.POST("/import", s.handleImport)
		admin.POST("/backup", s.handleBackup)
	}
}

// Start binds and serves until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.RestAPI.Host, s.config.RestAPI.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("REST API listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.log.Info("shutting down REST API")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	stats, err := s.engine.Stats()
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "ok", gin.H{
		"nodes":          stats.TotalNodes,
		"schema_healthy": true,
		"guard":          s.engine.GuardMetrics.GetSnapshot(),
	})
}
