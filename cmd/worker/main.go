package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/topicquests/tqos-asr-api/internal/queue"
	"github.com/topicquests/tqos-asr-api/internal/util"
	"github.com/topicquests/tqos-asr-api/pkg/leaselock"
	"github.com/topicquests/tqos-asr-api/pkg/logger"
	"github.com/topicquests/tqos-asr-api/pkg/logger/console"
	"github.com/topicquests/tqos-asr-api/pkg/merge"
	"github.com/topicquests/tqos-asr-api/pkg/schema"
	"github.com/topicquests/tqos-asr-api/pkg/txstore"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

type config struct {
	dsn        string
	role       txstore.Role
	workers    int
	maxRetries int
	audit      time.Duration
}

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Format: util.GetEnvString("LOG_FORMAT", "text"),
	})
	logger.Init(consoleLogger)

	cfg := config{
		dsn:        util.GetEnv("DATABASE_URL"),
		workers:    util.GetEnvInt("WORKER_COUNT", 1),
		maxRetries: util.GetEnvInt("MERGE_MAX_RETRIES", 3),
		audit:      util.GetEnvDuration("AUDIT_INTERVAL", time.Hour),
	}
	if cfg.dsn == "" {
		logger.Fatal("DATABASE_URL is not set")
	}
	if name := util.GetEnv("DB_ROLE"); name != "" {
		role, err := txstore.ParseRole(name)
		if err != nil {
			logger.Fatal("Invalid DB_ROLE", "role", name, "err", err)
		}
		if role.ReadOnly() {
			logger.Fatal("DB_ROLE must be writable for merge workers", "role", role)
		}
		cfg.role = role
	}

	if util.GetEnvBool("MIGRATE_ON_START", true) {
		if err := schema.Migrate(cfg.dsn); err != nil {
			logger.Fatal("Failed to migrate database", "err", err)
		}
	}

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}
	_ = ch.Close()

	g, gctx := errgroup.WithContext(ctx)
	for i := range cfg.workers {
		g.Go(func() error {
			return runWorker(gctx, i, conn, cfg)
		})
	}
	if cfg.audit > 0 {
		g.Go(func() error {
			return runAudit(gctx, cfg)
		})
	}

	logger.Info("Listening for messages", "workers", cfg.workers, "queues", queue.Queues)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Worker stopped", "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}

func openStore(ctx context.Context, cfg config, role txstore.Role) (*txstore.Store, error) {
	s, err := txstore.Open(ctx, cfg.dsn)
	if err != nil {
		return nil, err
	}
	if role != "" {
		if err := s.SetRole(ctx, nil, role); err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
	}
	return s, nil
}

// worker owns one store connection and one channel.
type worker struct {
	id  int
	cfg config
	ch  *amqp.Channel
	s   *txstore.Store
	h   *queue.Handler
}

func (w *worker) connect(ctx context.Context) error {
	if w.s != nil {
		_ = w.s.Close(ctx)
	}
	s, err := openStore(ctx, w.cfg, w.cfg.role)
	if err != nil {
		return err
	}
	w.s = s
	w.h = queue.NewHandler(s, w.cfg.maxRetries)
	return nil
}

func runWorker(ctx context.Context, id int, conn *amqp.Connection, cfg config) error {
	w := &worker{id: id, cfg: cfg}
	if err := w.connect(ctx); err != nil {
		return fmt.Errorf("worker %d: %w", id, err)
	}
	defer func() { _ = w.s.Close(context.Background()) }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("worker %d: failed to open channel: %w", id, err)
	}
	defer ch.Close()
	w.ch = ch

	// one unacked message per worker
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("worker %d: failed to set QoS: %w", id, err)
	}

	deliveries := make(map[string]<-chan amqp.Delivery, len(queue.Queues))
	for _, name := range queue.Queues {
		msgs, err := ch.Consume(
			name,
			fmt.Sprintf("%s_worker_%d", name, id),
			false, // autoAck
			false, // exclusive
			false, // noLocal
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("worker %d: failed to consume %s: %w", id, name, err)
		}
		deliveries[name] = msgs
	}

	gramMsgs, topicMsgs := deliveries[queue.GramMergeQueue], deliveries[queue.TopicMergeQueue]
	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping worker", "worker", id)
			return ctx.Err()
		case msg, ok := <-gramMsgs:
			if !ok {
				return fmt.Errorf("worker %d: %s channel closed", id, queue.GramMergeQueue)
			}
			w.handle(ctx, queue.GramMergeQueue, msg)
		case msg, ok := <-topicMsgs:
			if !ok {
				return fmt.Errorf("worker %d: %s channel closed", id, queue.TopicMergeQueue)
			}
			w.handle(ctx, queue.TopicMergeQueue, msg)
		}
	}
}

func (w *worker) handle(ctx context.Context, queueName string, msg amqp.Delivery) {
	startTime := time.Now()
	logger.Debug("Received message", "queue", queueName, "worker", w.id)

	err := w.h.Process(ctx, queueName, msg.Body)
	switch {
	case err == nil:
		if err := msg.Ack(false); err != nil {
			logger.Error("Failed to ack message", "err", err)
		}
		logger.Info("Message processed successfully", "queue", queueName, "worker", w.id, "duration", time.Since(startTime))
	case ctx.Err() != nil:
		_ = msg.Nack(false, true)
	case errors.Is(err, txstore.ErrConnectionLost):
		logger.Warn("Database connection lost, reconnecting", "worker", w.id, "err", err)
		_ = msg.Nack(false, true)
		if err := w.connect(ctx); err != nil {
			logger.Error("Failed to reconnect to database", "worker", w.id, "err", err)
		}
	default:
		logger.Error("Error processing message", "queue", queueName, "worker", w.id, "err", err)
		queue.HandleProcessingError(w.ch, msg, queueName, err)
	}
}

// runAudit periodically reports broken redirects. Only one worker process
// runs an audit at a time.
func runAudit(ctx context.Context, cfg config) error {
	lockStore, err := openStore(ctx, cfg, cfg.role)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	defer func() { _ = lockStore.Close(context.Background()) }()

	auditStore, err := openStore(ctx, cfg, cfg.role.ReadOnlyVariant())
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	defer func() { _ = auditStore.Close(context.Background()) }()

	locks := leaselock.New(lockStore, "tq-worker")
	engine := merge.New(auditStore, merge.Options{})

	t := time.NewTicker(cfg.audit)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

		err := locks.WithLease(ctx, "redirect-audit", leaselock.Options{TTL: 5 * time.Minute}, func(ctx context.Context) error {
			_, err := engine.Audit(ctx, nil)
			return err
		})
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case errors.Is(err, leaselock.ErrBusy):
			logger.Debug("Audit already running elsewhere")
		default:
			logger.Error("Redirect audit failed", "err", err)
		}
	}
}
