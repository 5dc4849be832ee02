package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"github.com/goinginblind/scribe/internal/api"
	"github.com/goinginblind/scribe/internal/config"
	"github.com/goinginblind/scribe/internal/consumer"
	"github.com/goinginblind/scribe/internal/generation"
	"github.com/goinginblind/scribe/internal/notify"
	"github.com/goinginblind/scribe/internal/payment"
	"github.com/goinginblind/scribe/internal/pkg/health"
	"github.com/goinginblind/scribe/internal/pkg/logger"
	"github.com/goinginblind/scribe/internal/service"
	"github.com/goinginblind/scribe/internal/store"
	"github.com/goinginblind/scribe/internal/tasks"
)

// recoveryBatch caps how many paid orders are re-dispatched on startup.
const recoveryBatch = 500

// orderStore is what both store implementations provide.
type orderStore interface {
	service.OrderStore
	service.SettingsStore
	health.Pinger
}

// App struct holds all the core components of the application
type App struct {
	cfg        *config.Config
	logger     logger.Logger
	db         *sql.DB
	server     *api.Server
	controller *service.Controller
	hc         *health.DBHealthChecker

	// exactly one of queue and consumer is set, depending on dispatch mode
	queue      *tasks.ChannelQueue
	consumer   *consumer.KafkaConsumer
	dispatcher *tasks.KafkaDispatcher
	dlq        consumer.DLQManager
}

// New wires every component from the loaded configuration.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to create a logger: %w", err)
	}

	a := &App{cfg: cfg, logger: appLogger}
	st, err := a.openStore()
	if err != nil {
		return nil, err
	}

	settings := service.NewSettingsService(st, appLogger)
	generator := a.newGenerator(settings)
	notifier := notify.New(notify.SMTPSender{}, appLogger, cfg.IsProduction(), cfg.Notify.Timeout)

	var dispatcher tasks.Dispatcher
	switch cfg.Dispatch.Mode {
	case config.DispatchKafka:
		producer, err := tasks.NewKafkaProducer(cfg.Kafka.BootstrapServers(), cfg.Kafka.ClientID)
		if err != nil {
			a.closeDB()
			return nil, fmt.Errorf("failed to create task producer: %w", err)
		}
		a.dispatcher = tasks.NewKafkaDispatcher(producer, cfg.Kafka.ProcessTopic, cfg.Kafka.DeliveryTimeout, appLogger)
		dispatcher = a.dispatcher
	default:
		a.queue = tasks.NewChannelQueue(cfg.Dispatch.QueueSize, cfg.Dispatch.Workers, cfg.Dispatch.EnqueueTimeout, appLogger)
		dispatcher = a.queue
	}

	a.controller = service.New(service.Deps{
		Store:      st,
		Settings:   settings,
		Generator:  generator,
		Notifier:   notifier,
		Dispatcher: dispatcher,
		Logger:     appLogger,
	}, service.Options{
		MaxAttempts:  cfg.Generation.MaxAttempts,
		RetryBackoff: cfg.Generation.RetryBackoff,
	})

	a.hc = health.NewDBHealthChecker(st, appLogger, cfg.Health.CheckInterval, cfg.Health.CheckTimeout)

	if cfg.Dispatch.Mode == config.DispatchKafka {
		if err := a.newConsumer(); err != nil {
			a.dispatcher.Close()
			a.closeDB()
			return nil, err
		}
	}

	cached := service.NewCachingOrderService(a.controller, appLogger, cfg.Cache.EntryCountCap, cfg.Cache.EntrySizeCap)
	a.server = api.NewServer(cached, settings, payment.NewVerifier(cfg.Payment.SignatureTolerance), a.hc, appLogger, api.Options{
		HTTP:          cfg.HTTPServer,
		AdminToken:    cfg.Admin.Token,
		WebhookSecret: cfg.Payment.WebhookSecret,
	})

	return a, nil
}

func (a *App) openStore() (orderStore, error) {
	if a.cfg.StoreKind == config.StoreMemory {
		a.logger.Warnw("Using the in-memory store, orders will not survive a restart")
		return store.NewMemoryStore(), nil
	}

	db, err := sql.Open("pgx", a.cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(a.cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(a.cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(a.cfg.Database.ConnMaxLifetime)
	a.db = db

	if a.cfg.Database.MigrateOnStart {
		if err := store.Migrate(db); err != nil {
			a.closeDB()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		a.logger.Infow("Database migrations applied")
	}
	return store.NewDBStore(db, a.logger), nil
}

// newGenerator builds the generation client. A key in the config file
// wins, otherwise the key is read from settings on every call so that
// an admin can rotate it without a restart.
func (a *App) newGenerator(settings *service.SettingsService) *generation.Client {
	gc := a.cfg.Generation
	cfg := generation.Config{
		BaseURL: gc.BaseURL,
		Model:   gc.Model,
		APIKey:  gc.APIKey,
		Timeout: gc.Timeout,
		Rates: generation.Rates{
			InputPerMillion:  gc.InputRatePerMillion,
			OutputPerMillion: gc.OutputRatePerMillion,
		},
	}
	if cfg.APIKey == "" {
		cfg.KeyFunc = settings.GenerationAPIKey
	}
	return generation.NewClient(cfg, &http.Client{})
}

func (a *App) newConsumer() error {
	kc := a.cfg.Kafka
	dlq, err := tasks.NewKafkaProducer(kc.BootstrapServers(), kc.ClientID+"-dlq")
	if err != nil {
		return fmt.Errorf("failed to create DLQ producer: %w", err)
	}

	c, err := consumer.NewKafkaConsumer(
		consumer.NewConsumerConfig(kc.BootstrapServers(), kc.GroupID, kc.ClientID),
		dlq,
		consumer.Config{
			Topic:        kc.ProcessTopic,
			DLQTopic:     kc.DLQTopic,
			Workers:      a.cfg.Consumer.Workers,
			BufferSize:   a.cfg.Consumer.BufferSize,
			MaxRetries:   a.cfg.Consumer.MaxRetries,
			RetryBackoff: a.cfg.Consumer.RetryBackoff,
		},
		a.controller,
		a.hc,
		a.logger,
	)
	if err != nil {
		dlq.Close()
		return fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	a.consumer, a.dlq = c, dlq
	return nil
}

// Run, well, runs the whole app until SIGINT or SIGTERM, or until one of
// its parts fails. Every part gets a context that is canceled on the way out.
func (a *App) Run() error {
	defer a.cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	a.hc.Start(gctx)

	if a.queue != nil {
		a.queue.Start(gctx, a.controller.ProcessOrder)
	}
	if a.consumer != nil {
		g.Go(func() error { return a.consumer.Run(gctx) })
	}
	if a.cfg.Dispatch.RecoverOnStart {
		g.Go(func() error {
			if _, err := a.controller.RecoverPending(gctx, recoveryBatch); err != nil {
				a.logger.Errorw("Startup recovery failed", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error { return a.server.Start(":" + a.cfg.HTTPServer.Port) })
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Infow("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTPServer.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("server shutdown: %w", err)
		}
		if a.queue != nil {
			a.queue.Stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Errorw("App stopped with an error", "error", err)
		return err
	}
	return nil
}

func (a *App) cleanup() {
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.dlq != nil {
		if left := a.dlq.Flush(int((5 * time.Second).Milliseconds())); left > 0 {
			a.logger.Warnw("DLQ messages left undelivered on shutdown", "count", left)
		}
		a.dlq.Close()
	}
	a.closeDB()
	if err := a.logger.Sync(); err != nil {
		log.Printf("failed to sync logger: %v\n", err)
	}
}

func (a *App) closeDB() {
	if a.db == nil {
		return
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warnw("Closing database failed", "error", err)
	}
}
