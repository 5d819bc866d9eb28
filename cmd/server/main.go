package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/edgegate/edgegate/internal/auth"
	"github.com/edgegate/edgegate/internal/bus"
	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/database"
	"github.com/edgegate/edgegate/internal/feedback"
	"github.com/edgegate/edgegate/internal/matcher"
	"github.com/edgegate/edgegate/internal/pipeline"
	"github.com/edgegate/edgegate/internal/risk"
	"github.com/edgegate/edgegate/internal/rules"
	"github.com/edgegate/edgegate/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the admission gateway with graceful shutdown
// support. It wires the signal pipeline, risk controller, adaptive rule
// evaluator and feedback loop, then exposes the operator API.
func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize message bus
	messageBus, err := bus.NewBus(cfg.Redis)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to connect to message bus")
	}
	defer messageBus.Close()

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.Auth.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	ruleService := rules.NewService(db, messageBus)
	ruleHandlers := rules.NewGinHandlers(ruleService)

	evaluator := rules.NewEvaluator(ruleService.GetDB())
	if err := evaluator.Refresh(); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load active rules")
	}

	riskController := risk.NewController(db, cfg.Risk)
	riskHandlers := risk.NewGinHandlers(riskController)

	matcherClient := matcher.NewClient(messageBus, cfg.Matcher)

	processor := pipeline.NewProcessor(
		db,
		cfg.Trading,
		cfg.Matcher,
		riskController,
		evaluator,
		matcherClient,
		messageBus,
	)
	pipelineHandlers := pipeline.NewGinHandlers(processor, riskController, evaluator)
	consumer := pipeline.NewConsumer(processor, messageBus)

	feedbackService := feedback.NewService(db, cfg.Feedback, ruleService, messageBus)
	feedbackHandlers := feedback.NewGinHandlers(feedbackService)

	// Start background loops
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go matcherClient.Start(processorCtx, messageBus)
	go evaluator.Start(processorCtx, messageBus)
	go consumer.Run(processorCtx)
	go consumer.RunTradeCloseListener(processorCtx)
	go consumer.RunHeartbeat(processorCtx, time.Minute)
	go processor.Inflight().StartSweep(processorCtx, time.Minute)
	go feedbackService.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.Auth.JWTSecret, authHandlers, pipelineHandlers, riskHandlers, ruleHandlers, feedbackHandlers)

	port := cfg.Server.Port
	if envPort := os.Getenv("PORT"); envPort != "" {
		port = envPort
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop consuming signals before the HTTP surface goes away
	processorCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Operator routes: Protected by JWT authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	pipelineHandlers *pipeline.GinHandlers,
	riskHandlers *risk.GinHandlers,
	ruleHandlers *rules.GinHandlers,
	feedbackHandlers *feedback.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Operator routes
		operator := v1.Group("")
		operator.Use(middleware.JWTAuth(jwtSecret))
		{
			operator.GET("/stats", pipelineHandlers.StatsHandler())

			operator.GET("/risk/breaker", riskHandlers.GetBreakerHandler())
			operator.POST("/risk/breaker/open", riskHandlers.OpenBreakerHandler())
			operator.POST("/risk/breaker/close", riskHandlers.CloseBreakerHandler())

			operator.GET("/rules", ruleHandlers.ListRulesHandler())
			operator.POST("/rules/:rule_id/approve", ruleHandlers.ApproveRuleHandler())
			operator.POST("/rules/:rule_id/reject", ruleHandlers.RejectRuleHandler())

			operator.GET("/patterns", feedbackHandlers.ListPatternsHandler())
		}
	}
}
