package main

import (
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/taskgate/taskgate/internal/api/handlers"
	"github.com/taskgate/taskgate/internal/api/middleware"
	"github.com/taskgate/taskgate/internal/config"
	"github.com/taskgate/taskgate/internal/crypto"
	"github.com/taskgate/taskgate/internal/database"
	"github.com/taskgate/taskgate/internal/engine"
	"github.com/taskgate/taskgate/internal/gateway"
	"github.com/taskgate/taskgate/internal/tasks"
	"github.com/taskgate/taskgate/internal/workflows"
	"github.com/taskgate/taskgate/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load(config.Overrides{})
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}

	if cfg.Debug {
		logger.SetLevel(logger.LevelDebug)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Open database
	logger.Infof("Opening database: %s", cfg.DatabasePath)
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Errorf("Failed to open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize JWT manager for the control API
	jwtManager, err := crypto.NewJWTManager(cfg.MasterSecret)
	if err != nil {
		logger.Errorf("Failed to create JWT manager: %v", err)
		os.Exit(1)
	}

	// Durable-execution backend. The in-memory engine serves single-process
	// deployments and development; production points this at the real
	// backend client.
	eng := engine.NewInMemoryEngine()
	registry := workflows.NewTemporalRegistry(eng)

	// Relay state
	sessions := gateway.NewSessionRegistry()
	prompts := gateway.NewPendingPrompts()
	relayHandlers := gateway.NewHandlers(sessions, prompts, eng, cfg.GatewayToken)

	// Create gin router
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))
	router.Use(middleware.Logging())

	router.GET("/", func(c *gin.Context) {
		c.String(200, "Taskgate Gateway")
	})

	// Internal relay surface (gateway-token guarded)
	relayHandlers.RegisterRoutes(router)

	// Public control API (JWT guarded)
	taskStore := tasks.NewStore(db.DB)

	v1 := router.Group("/v1")
	handlers.NewAuthHandler(jwtManager, cfg.MasterSecret).RegisterRoutes(v1)

	protected := v1.Group("", middleware.Auth(jwtManager))
	handlers.NewWorkflowHandler(registry).RegisterRoutes(protected)
	tasks.NewHandler(taskStore).RegisterRoutes(protected)

	logger.Infof("Taskgate gateway starting on %s", cfg.Addr)
	logger.Infof("Database: %s", cfg.DatabasePath)
	if cfg.GatewayToken == "" {
		logger.Warnf("No gateway token configured; internal relay endpoints are open")
	}

	if err := router.Run(cfg.Addr); err != nil {
		logger.Errorf("Failed to start server: %v", err)
		os.Exit(1)
	}
}
