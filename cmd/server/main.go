package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/lendcore/lending-engine/internal/config"
	"github.com/lendcore/lending-engine/internal/handler"
	"github.com/lendcore/lending-engine/internal/logger"
	"github.com/lendcore/lending-engine/internal/repository"
	"github.com/lendcore/lending-engine/internal/service"
	"github.com/lendcore/lending-engine/pkg/response"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if err := logger.Setup(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize logger")
	}

	db, err := initDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	redisClient := initRedis(cfg)
	defer redisClient.Close()

	customerRepo := repository.NewCustomerRepository(db)
	loanRepo := repository.NewLoanRepository(db)
	installmentRepo := repository.NewInstallmentRepository(db)
	historyRepo := repository.NewPaymentHistoryRepository(db)
	transactor := repository.NewTransactor(db)

	lendingService := service.NewLendingService(
		customerRepo,
		loanRepo,
		installmentRepo,
		historyRepo,
		transactor,
		redisClient,
		cfg,
		logger.WithComponent("service"),
	)
	lendingHandler := handler.NewLendingHandler(lendingService)
	healthHandler := handler.NewHealthHandler(db, redisClient)

	router := setupRoutes(lendingHandler, healthHandler)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited")
}

func initDB(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.GetConnMaxLifetime())

	if err := repository.Migrate(db, cfg.Database.Driver); err != nil {
		return nil, err
	}

	return db, nil
}

func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func setupRoutes(lendingHandler *handler.LendingHandler, healthHandler *handler.HealthHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(response.LoggingMiddleware)
	router.Use(response.CORSMiddleware)

	// Health check
	router.HandleFunc("/health", healthHandler.Health).Methods("GET")
	router.HandleFunc("/health/ready", healthHandler.Ready).Methods("GET")

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/customers", lendingHandler.CreateCustomer).Methods("POST")
	api.HandleFunc("/customers/{customerId}", lendingHandler.GetCustomer).Methods("GET")

	api.HandleFunc("/loans", lendingHandler.CreateLoan).Methods("POST")
	api.HandleFunc("/loans/{loanId}", lendingHandler.GetLoan).Methods("GET")
	api.HandleFunc("/loans/{loanId}/schedule", lendingHandler.GetSchedule).Methods("GET")
	api.HandleFunc("/loans/{loanId}/outstanding", lendingHandler.GetOutstanding).Methods("GET")
	api.HandleFunc("/loans/{loanId}/payment", lendingHandler.MakePayment).Methods("POST")
	api.HandleFunc("/loans/{loanId}/penalty", lendingHandler.AddPenalty).Methods("POST")
	api.HandleFunc("/loans/{loanId}/penalty/payment", lendingHandler.PayPenalty).Methods("POST")
	api.HandleFunc("/loans/{loanId}/recalculate", lendingHandler.Recalculate).Methods("POST")
	api.HandleFunc("/loans/{loanId}/history", lendingHandler.GetHistory).Methods("GET")

	return router
}
