package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/commonfund/backend/internal/config"
	"github.com/commonfund/backend/internal/database"
	"github.com/commonfund/backend/internal/handlers"
	mW "github.com/commonfund/backend/internal/middleware"
	"github.com/commonfund/backend/internal/services"
)

// @title Community Fund Backend API
// @version 1.0
// @description API for watershed ledgers, peer-funded loans and ad revenue settlement
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	// Set environment variable prefix
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.BindEnv("policy.share_price", "POLICY_SHARE_PRICE")
	viper.BindEnv("policy.platform_take_rate", "POLICY_PLATFORM_TAKE_RATE")
	viper.BindEnv("policy.net_term_days", "POLICY_NET_TERM_DAYS")
	viper.BindEnv("policy.grace_days", "POLICY_GRACE_DAYS")
	viper.BindEnv("policy.default_threshold", "POLICY_DEFAULT_THRESHOLD")
	viper.BindEnv("policy.recovery_window_days", "POLICY_RECOVERY_WINDOW_DAYS")

	viper.BindEnv("settlement.currency", "SETTLEMENT_CURRENCY")
	viper.BindEnv("settlement.bic", "SETTLEMENT_BIC")
	viper.BindEnv("settlement.clearing_member_id", "SETTLEMENT_CLEARING_MEMBER_ID")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	policy := config.LoadPolicyConfig()
	tierConfig := config.LoadTierConfig()

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledgerService := services.NewWatershedLedgerService(db)
	tierEngine := services.NewCreditTierEngine(db, tierConfig)
	loanService := services.NewLoanService(db, redisClient, ledgerService, tierEngine, policy, tierConfig)
	settlementService := services.NewSettlementService(db, redisClient, ledgerService, policy)
	riskService := services.NewRiskService(db, loanService, policy)
	authService := services.NewAuthService(db, redisClient)
	qrService := services.NewQRService(db, redisClient)
	qrHandler := handlers.NewQRHandler(qrService, policy)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/auth/logout", authService.Logout)

			// Watershed endpoints
			r.Get("/watershed/balance", ledgerService.GetBalance)
			r.Get("/watershed/transactions", ledgerService.GetTransactions)
			r.Post("/watershed/contributions", ledgerService.Contribute)

			// Loan endpoints
			r.Post("/loans", loanService.CreateLoanHandler)
			r.Get("/loans", loanService.ListLoansHandler)
			r.Get("/loans/{loanId}", loanService.GetLoanHandler)
			r.Post("/loans/{loanId}/shares", loanService.FundShareHandler)
			r.Post("/loans/{loanId}/repayments", loanService.RepaymentHandler)

			// Ad view recording
			r.Post("/ads/views", settlementService.RecordAdViewHandler)

			// QR endpoints
			r.Post("/qr/generate", qrHandler.GenerateQR)
			r.Post("/qr/process", qrHandler.ProcessQR)

			// Admin endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.AdminOnly)

				r.Post("/loans/{loanId}/disburse", loanService.DisburseHandler)
				r.Get("/loans/at-risk", riskService.GetAtRiskLoans)

				r.Post("/settlements", settlementService.CreateBatchHandler)
				r.Get("/settlements", settlementService.ListBatchesHandler)
				r.Post("/settlements/{batchId}/clear", settlementService.ClearBatchHandler)
			})
		})
	})

	// Background sweeps
	stopJobs := make(chan struct{})
	go func() {
		ticker := time.NewTicker(policy.ExpirySweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := loanService.ExpireOverdueLoans(); err != nil {
					log.Printf("[LOAN] Expiry sweep failed: %v", err)
				} else if n > 0 {
					log.Printf("[LOAN] Expiry sweep refunded %d loans", n)
				}
			case <-stopJobs:
				return
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(policy.RiskScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := riskService.Scan(); err != nil {
					log.Printf("[RISK] Scan failed: %v", err)
				}
			case <-stopJobs:
				return
			}
		}
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	close(stopJobs)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
