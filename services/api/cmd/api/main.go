package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/tixora/tixora/services/api/internal/app"
	"github.com/tixora/tixora/services/api/internal/clock"
	"github.com/tixora/tixora/services/api/internal/config"
	"github.com/tixora/tixora/services/api/internal/events"
	"github.com/tixora/tixora/services/api/internal/logging"
	"github.com/tixora/tixora/services/api/internal/payment"
	"github.com/tixora/tixora/services/api/internal/qrtoken"
	"github.com/tixora/tixora/services/api/internal/storage/postgres"
	transporthttp "github.com/tixora/tixora/services/api/internal/transport/http"
	"github.com/tixora/tixora/services/api/migrations"
)

const startupTimeout = 15 * time.Second

func main() {
	envFile := pflag.String("env-file", "", "path to a .env file (defaults to the nearest .env)")
	migrateOnly := pflag.Bool("migrate-only", false, "apply database migrations and exit")
	pflag.Parse()

	cfg, loadedFrom, err := config.Load(*envFile)
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.WithError(err).Fatal("configure logging")
	}
	if loadedFrom != "" {
		logger.WithField("path", loadedFrom).Info("loaded env file")
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	pool, err := pgxpool.New(startupCtx, cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Fatal("connect to db")
	}
	defer pool.Close()

	if err := pool.Ping(startupCtx); err != nil {
		logger.WithError(err).Fatal("db ping")
	}
	if err := migrations.Apply(startupCtx, pool); err != nil {
		logger.WithError(err).Fatal("apply migrations")
	}
	if version, dirty, err := migrations.Version(startupCtx, pool); err == nil {
		logger.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("schema ready")
	}
	if *migrateOnly {
		return
	}

	publisher, closePublisher := newPublisher(cfg.Kafka, logger)
	defer closePublisher()

	signer, err := qrtoken.NewSigner(cfg.SigningSecret)
	if err != nil {
		logger.WithError(err).Fatal("ticket signer")
	}

	clk := clock.NewSystem()
	payments := payment.NewClient(cfg.Payment.APIURL, cfg.Payment.APIKey, cfg.Payment.Timeout)
	ledger := postgres.NewTierRepository(pool)

	promoSvc := app.NewPromoService(postgres.NewPromoRepository(pool), clk)
	holdSvc := app.NewHoldService(postgres.NewHoldRepository(pool), ledger, clk,
		app.WithHoldTTL(cfg.HoldTTL),
		app.WithHoldLogger(logger.WithField("component", "holds")),
	)
	adminSvc := app.NewAdminService(postgres.NewAdminRepository(pool), clk, app.WithTierSweeper(holdSvc))
	orderSvc := app.NewOrderService(app.OrderServiceDeps{
		Repo:     postgres.NewOrderRepository(pool),
		Ledger:   ledger,
		Promos:   promoSvc,
		Payments: payments,
		Clock:    clk,
		Logger:   logger.WithField("component", "orders"),
	})
	ticketSvc := app.NewTicketService(postgres.NewTicketRepository(pool), signer, publisher, clk, logger.WithField("component", "tickets"))
	refundSvc := app.NewRefundService(postgres.NewRefundRepository(pool), payments, publisher, clk, logger.WithField("component", "refunds"))
	transferSvc := app.NewTransferService(postgres.NewTransferRepository(pool), signer, clk,
		app.WithTransferTTL(cfg.TransferTTL),
		app.WithTransferPublisher(publisher),
		app.WithTransferLogger(logger.WithField("component", "transfers")),
	)
	webhookSvc := app.NewWebhookProcessor(app.WebhookProcessorDeps{
		Repo:      postgres.NewWebhookRepository(pool),
		Verifier:  payment.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.Tolerance),
		Orders:    orderSvc,
		Tickets:   ticketSvc,
		Refunds:   refundSvc,
		Publisher: publisher,
		Clock:     clk,
		Logger:    logger.WithField("component", "webhooks"),
	})

	router := transporthttp.NewRouter(transporthttp.Deps{
		Admin:     adminSvc,
		Holds:     holdSvc,
		Promos:    promoSvc,
		Orders:    orderSvc,
		Tickets:   ticketSvc,
		Refunds:   refundSvc,
		Transfers: transferSvc,
		Webhooks:  webhookSvc,
		Logger:    logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           transporthttp.CORS(cfg.CORSOrigins, router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := app.NewSweeper(holdSvc, transferSvc, cfg.SweepInterval, logger.WithField("component", "sweeper"))
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(stopCtx)
	}()

	logger.WithField("port", cfg.HTTP.Port).Info("api listening")

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server error")
		}
		stop()
	case <-stopCtx.Done():
		logger.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("server shutdown error")
	}
	<-sweepDone
	logger.Info("server stopped")
}

// newPublisher produces to Kafka when brokers are configured and falls back
// to logging events otherwise.
func newPublisher(cfg config.Kafka, logger *logrus.Logger) (events.Publisher, func()) {
	if len(cfg.Brokers) == 0 {
		logger.Warn("KAFKA_BROKERS not set, domain events will only be logged")
		return events.NewLogPublisher(logger.WithField("component", "events")), func() {}
	}
	kp, err := events.NewKafkaPublisher(strings.Join(cfg.Brokers, ","), cfg.TopicPrefix, logger.WithField("component", "events"))
	if err != nil {
		logger.WithError(err).Fatal("kafka producer")
	}
	return kp, func() { kp.Close(5000) }
}
