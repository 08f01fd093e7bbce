package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/lendcore/lending-engine/internal/config"
	"github.com/lendcore/lending-engine/internal/domain"
	"github.com/lendcore/lending-engine/internal/logger"
	"github.com/lendcore/lending-engine/internal/repository"
	"github.com/lendcore/lending-engine/internal/service"
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

	db, err := sqlx.Connect(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	lendingService := service.NewLendingService(
		repository.NewCustomerRepository(db),
		repository.NewLoanRepository(db),
		repository.NewInstallmentRepository(db),
		repository.NewPaymentHistoryRepository(db),
		repository.NewTransactor(db),
		nil, // no cache in the scheduler; cached balances expire by TTL
		cfg,
		logger.WithComponent("scheduler"),
	)

	c := cron.New(cron.WithSeconds(), cron.WithLocation(cfg.GetSchedulerLocation()))
	setupCronJobs(c, cfg, lendingService)

	c.Start()
	log.Info().Msg("scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down scheduler")
	<-c.Stop().Done()
	log.Info().Msg("scheduler stopped")
}

func setupCronJobs(c *cron.Cron, cfg *config.Config, svc *service.LendingService) {
	// Nightly job flagging loans with past-due unpaid installments.
	_, err := c.AddFunc(cfg.Scheduler.OverdueSweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		flagged, err := svc.MarkOverdueLoans(ctx)
		if err != nil {
			log.Error().Err(err).Msg("overdue sweep failed")
			return
		}
		log.Info().Int("flagged", flagged).Msg("overdue sweep finished")
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to schedule overdue sweep")
	}

	// Nightly drift repair: recompute every open loan's balance from its
	// installments.
	_, err = c.AddFunc(cfg.Scheduler.BalanceSyncSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		runBalanceSync(ctx, svc)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to schedule balance sync")
	}

	log.Info().Msg("cron jobs scheduled")
}

func runBalanceSync(ctx context.Context, svc *service.LendingService) {
	synced := 0
	for _, status := range []string{domain.LoanStatusActive, domain.LoanStatusOverdue} {
		loans, err := svc.ListLoansByStatus(ctx, status)
		if err != nil {
			log.Error().Err(err).Str("status", status).Msg("balance sync: listing loans failed")
			return
		}
		for _, loan := range loans {
			if _, err := svc.RecalculateLoanBalance(ctx, loan.ID); err != nil {
				log.Error().Err(err).Str("loan_id", loan.ID.String()).Msg("balance sync: recalculation failed")
				continue
			}
			synced++
		}
	}
	log.Info().Int("synced", synced).Msg("balance sync finished")
}
