package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/gpay-xe/config"
	"github.com/yourusername/gpay-xe/contracts"
	"github.com/yourusername/gpay-xe/handlers"
	"github.com/yourusername/gpay-xe/middleware"
	"github.com/yourusername/gpay-xe/sweeper"
	"github.com/yourusername/gpay-xe/utils"
	"gorm.io/gorm"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log, err := config.InitLogger(cfg)
	if err != nil {
		logrus.Fatalf("Failed to configure logging: %v", err)
	}

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store := contracts.NewStore(db)
	xeClient := utils.NewXEClient(cfg.XEBaseURL, cfg.XEAccountNumber, cfg.XEAPIKey, cfg.XETimeout)
	sw := sweeper.New(store, xeClient, log, sweeper.Options{
		ApprovalTimeout: cfg.ApprovalTimeout,
		Concurrency:     cfg.SweepConcurrency,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweepDone := make(chan struct{})
	if cfg.SweepEnabled {
		go func() {
			defer close(sweepDone)
			sw.Run(ctx, cfg.SweepInterval)
		}()
	} else {
		close(sweepDone)
		log.Info("background sweep disabled")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(cfg, db, store, xeClient, sw, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("Starting Gpay-XE API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}
	// A tick in flight finishes recording its claimed attempts first.
	<-sweepDone
}

func setupRouter(cfg *config.Config, db *gorm.DB, store *contracts.Store, xeClient utils.XEClientInterface, sw *sweeper.Sweeper, log logrus.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "gpay-xe-api",
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandler := handlers.NewAuthHandler(db, cfg, log)
	router.POST("/api/v1/auth/refresh", authHandler.Refresh)

	api := router.Group("/api/v1")
	api.Use(middleware.JwtAuthMiddleware(cfg, log))
	{
		transactionHandler := handlers.NewTransactionHandler(db, store)
		api.POST("/transactions", transactionHandler.CreateTransaction)
		api.GET("/transactions/:id", transactionHandler.GetTransaction)
		api.POST("/recipients", transactionHandler.CreateRecipient)
		api.GET("/recipients/:id", transactionHandler.GetRecipient)

		contractHandler := handlers.NewContractHandler(db, store, xeClient, sw, log)
		api.POST("/contracts", contractHandler.CreateContract)
		api.GET("/contracts", contractHandler.ListContracts)
		api.GET("/contracts/:id", contractHandler.GetContract)
		api.GET("/contract-numbers/:number", contractHandler.GetContractByNumber)
		api.POST("/contracts/:id/approve", contractHandler.ApproveContract)

		admin := api.Group("/admin", middleware.RequireRole("admin"))
		admin.POST("/sweep", contractHandler.TriggerSweep)
	}

	return router
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("request")
	}
}
