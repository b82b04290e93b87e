package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/barnacles-webhook/internal/config"
	"github.com/mattjoyce/barnacles-webhook/internal/events"
	"github.com/mattjoyce/barnacles-webhook/internal/forward"
	"github.com/mattjoyce/barnacles-webhook/internal/ingest"
	"github.com/mattjoyce/barnacles-webhook/internal/lock"
	"github.com/mattjoyce/barnacles-webhook/internal/log"
	"github.com/mattjoyce/barnacles-webhook/internal/natsource"
	"github.com/mattjoyce/barnacles-webhook/internal/storage"
)

// pruneInterval is how often the delivery log is trimmed to the retention window.
const pruneInterval = time.Hour

// shutdownDrainTimeout bounds how long serve waits for in-flight deliveries
// after its context ends.
var shutdownDrainTimeout = 10 * time.Second

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("barnacles-webhook starting", "version", version, "config", cfg.SourcePath)

	pidLock, err := lock.Acquire(cfg.State.LockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.State.LockPath, "error", err)
		return 1
	}
	defer func() { _ = pidLock.Release() }()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("component failed", "error", err)
		return 1
	}
	logger.Info("barnacles-webhook stopped")
	return 0
}

// serve runs every enabled source against one dispatcher until ctx is
// cancelled or a source fails, then waits a bounded time for in-flight deliveries.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.State.Path, err)
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	deliveryLog := storage.NewDeliveryLog(db)
	pruneDeliveries(ctx, deliveryLog, cfg.State.Retention, logger)

	hub := events.NewHub(256)
	d := forward.New(cfg.Forward(),
		forward.WithLogger(log.WithComponent("forward")),
		forward.WithRecorder(hub),
		forward.WithRecorder(deliveryLog),
	)
	logger.Info("dispatcher ready", "target", d.Target(), "scheme", cfg.Forward().Scheme())

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Ingest.Enabled {
		srv := ingest.New(ingest.Config{
			Listen:          cfg.Ingest.Listen,
			Secret:          cfg.Ingest.Secret,
			SignatureHeader: cfg.Ingest.SignatureHeader,
			MaxBodySize:     cfg.MaxBodySize(),
		}, d, hub, log.WithComponent("ingest"))
		g.Go(func() error { return srv.Start(gctx) })
		logger.Info("ingest server enabled", "listen", cfg.Ingest.Listen)
	}

	if cfg.NATS.Enabled {
		src := natsource.New(natsource.Config{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			QueueGroup:    cfg.NATS.QueueGroup,
			Name:          cfg.Service.Name,
		}, d, hub, log.WithComponent("natsource"))
		g.Go(func() error { return src.Run(gctx) })
		logger.Info("nats source enabled", "url", cfg.NATS.URL, "subject", src.Subject())
	}

	if !cfg.Ingest.Enabled && !cfg.NATS.Enabled {
		logger.Warn("no event sources enabled; nothing will be forwarded")
	}

	g.Go(func() error {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				pruneDeliveries(gctx, deliveryLog, cfg.State.Retention, logger)
			}
		}
	})

	logger.Info("barnacles-webhook running (press Ctrl+C to stop)")
	err = g.Wait()

	logger.Info("waiting for in-flight deliveries", "pending", d.Pending(), "timeout", shutdownDrainTimeout.String())
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
	defer cancel()
	if werr := d.WaitContext(drainCtx); werr != nil {
		logger.Warn("abandoning in-flight deliveries", "pending", d.Pending(), "error", werr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func pruneDeliveries(ctx context.Context, dl *storage.DeliveryLog, retention time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}
	n, err := dl.Prune(ctx, retention)
	if err != nil {
		logger.Warn("failed to prune delivery log", "error", err)
		return
	}
	if n > 0 {
		logger.Info("pruned delivery log", "removed", n, "retention", retention.String())
	}
}
