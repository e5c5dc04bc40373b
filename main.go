package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"ms-ticket-orders/internal/analytics"
	"ms-ticket-orders/internal/api"
	"ms-ticket-orders/internal/auth"
	"ms-ticket-orders/internal/config"
	"ms-ticket-orders/internal/database/migrations"
	"ms-ticket-orders/internal/db"
	"ms-ticket-orders/internal/event"
	"ms-ticket-orders/internal/inventory"
	"ms-ticket-orders/internal/kafka"
	"ms-ticket-orders/internal/lock"
	"ms-ticket-orders/internal/logger"
	"ms-ticket-orders/internal/notify"
	"ms-ticket-orders/internal/order"
	"ms-ticket-orders/internal/payment"
	"ms-ticket-orders/internal/pricing"
	"ms-ticket-orders/internal/refund"
	"ms-ticket-orders/internal/sse"
	"ms-ticket-orders/internal/sweeper"
	"ms-ticket-orders/internal/tickets"
	"ms-ticket-orders/internal/tickets/qr"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"golang.org/x/sync/errgroup"
)

func openPostgres(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*sql.DB, error) {
	var (
		sqldb *sql.DB
		err   error
	)
	const maxRetries = 5
	for i := range maxRetries {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN())
		if err == nil {
			if err = sqldb.PingContext(ctx); err == nil {
				break
			}
			sqldb.Close()
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to PostgreSQL after %d attempts: %w", maxRetries, err)
	}
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
	return sqldb, nil
}

func migrate(cfg config.DatabaseConfig, log *logger.Logger) error {
	// The migrator closes the connection it is handed.
	sqldb, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return err
	}
	r := migrations.NewRunner(sqldb, log)
	defer r.Close()
	return r.MigrateUp()
}

func newVerifier(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) (auth.Verifier, error) {
	if cfg.OIDCIssuer != "" {
		log.Info("AUTH", fmt.Sprintf("Verifying tokens against OIDC issuer %s", cfg.OIDCIssuer))
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("either OIDC_ISSUER or JWT_SECRET must be set")
	}
	log.Info("AUTH", "Verifying HS256 tokens with JWT_SECRET")
	return auth.NewHMACVerifier(cfg.JWTSecret), nil
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()
	log.SetLevel(logger.ParseLevel(cfg.LogLevel))
	log.Info("APP", "Starting ticket order service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Storage ---
	if cfg.Database.AutoMigrate {
		if err := migrate(cfg.Database, log); err != nil {
			log.Fatal("MIGRATE", err.Error())
		}
	}
	sqldb, err := openPostgres(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()
	store := db.New(bunDB)
	log.Info("DATABASE", "PostgreSQL connection successful")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	var locker sweeper.Locker
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Redis unreachable (%v), sweeper runs without a leader lock", err))
	} else {
		locker = lock.NewRedis(redisClient)
		log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, cfg.Redis.DB))
	}

	// --- Messaging ---
	var publisher notify.Publisher = notify.LogPublisher{Log: log}
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()
		publisher = producer
		topics := []string{
			cfg.Kafka.Topics.OrderEvents,
			cfg.Kafka.Topics.RefundEvents,
			cfg.Kafka.Topics.Notifications,
			cfg.Kafka.Topics.PaymentCompleted,
		}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
	} else {
		log.Warn("KAFKA", "Kafka disabled, domain events are only logged")
	}
	dispatcher := notify.NewDispatcher(log)
	events := notify.NewEvents(publisher, cfg.Kafka.Topics.OrderEvents, cfg.Kafka.Topics.RefundEvents, dispatcher)
	live := sse.NewFeed()
	events.Live = live
	notifier := notify.NewKafkaNotifier(publisher, cfg.Kafka.Topics.Notifications)

	// --- Services ---
	gen, err := qr.NewGenerator(cfg.QRSecret)
	if err != nil {
		log.Fatal("QR", err.Error())
	}
	var gateway payment.Gateway = payment.UnconfiguredGateway{}
	if sg, err := payment.NewStripeGateway(cfg.Stripe.SecretKey, nil, log); err != nil {
		log.Warn("STRIPE", "Refund approvals will fail until STRIPE_SECRET_KEY is set")
	} else {
		gateway = sg
	}

	orders := order.NewService(order.Deps{
		DB:         store,
		Ledger:     inventory.NewLedger(log),
		Pricing:    pricing.NewEngine(cfg.Orders.PlatformFeePercent),
		Issuer:     tickets.NewIssuer(nil, log),
		Forms:      order.DBForms{DB: store},
		Notifier:   notifier,
		Events:     events,
		Dispatcher: dispatcher,
		Log:        log,
		PendingTTL: cfg.Orders.PendingTTL,
	})
	refunds := refund.NewService(store, gateway, events, log)
	payments := payment.NewService(store, orders, cfg.Stripe.WebhookSecret, log)
	sweep := sweeper.New(store, orders, locker, sweeper.Config{
		Interval:  cfg.Orders.SweepInterval,
		BatchSize: cfg.Orders.SweepBatchSize,
		LockTTL:   cfg.Orders.SweepLockTTL,
	}, log)

	verifier, err := newVerifier(ctx, cfg.Auth, log)
	if err != nil {
		log.Fatal("AUTH", err.Error())
	}

	ticketSvc := tickets.NewService(store, gen, log)
	ticketSvc.PDF = tickets.NewPDFRenderer(cfg.TicketFontPath)

	handler := &api.Handler{
		Orders:    orders,
		Refunds:   refunds,
		Events:    event.NewService(store, refunds, events, log),
		Tickets:   ticketSvc,
		Payments:  payments,
		Analytics: analytics.NewService(store),
		Live:      live,
		Log:       log,
	}
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      api.NewRouter(handler, verifier),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP", fmt.Sprintf("Order service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return sweep.Run(gctx)
	})
	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.PaymentCompleted, cfg.Kafka.GroupID, log)
		defer consumer.Close()
		g.Go(func() error {
			return consumer.Run(gctx, payments.HandlePaymentCompleted)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("APP", err.Error())
	}
	dispatcher.Wait()
	log.Info("APP", "Order service shutdown complete")
}
