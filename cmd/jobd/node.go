package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"jobchain/config"
	"jobchain/core/events"
	"jobchain/core/state"
	"jobchain/native/jobs"
	"jobchain/native/params"
	"jobchain/native/proof"
	"jobchain/observability"
	"jobchain/observability/logging"
	telemetry "jobchain/observability/otel"
	"jobchain/storage"
)

const serviceName = "jobd"

// node bundles everything one CLI invocation needs and releases it on Close.
type node struct {
	cfg    *config.Config
	db     storage.Database
	state  *state.Manager
	engine *jobs.Engine
	logger *slog.Logger

	logCloser io.Closer
	shutdown  func(context.Context) error
}

func (c *cli) openNode(ctx context.Context) (*node, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service: serviceName,
		Env:     cfg.Log.Env,
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Output:  c.stderr,
	})
	n := &node{cfg: cfg, logger: logger, logCloser: logCloser}

	n.shutdown, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Log.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	n.db, err = openDatabase(cfg)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}
	n.state = state.NewManager(n.db)
	if err := n.state.EnsureStateVersion(); err != nil {
		n.Close()
		return nil, err
	}

	verifier, err := proof.New(cfg.Proof.Verifier)
	if err != nil {
		n.Close()
		return nil, err
	}
	n.engine = jobs.NewEngine(n.state)
	n.engine.SetConfig(jobs.Config{
		MaxMilestones:    cfg.Jobs.MaxMilestones,
		RequireProof:     cfg.Jobs.RequireProof,
		MaxFeedbackBytes: cfg.Jobs.MaxFeedbackBytes,
		PostQuota:        cfg.PostQuota(),
	})
	n.engine.SetVerifier(verifier)
	n.engine.SetPauses(params.NewPauseView(cfg.Pauses, n.state, logger))
	n.engine.SetLogger(logger)
	n.engine.SetEmitter(logEmitter{logger: logger})
	return n, nil
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	if cfg.Storage.Backend == config.BackendMemory {
		return storage.NewMemDB(), nil
	}
	path := cfg.StoragePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if cfg.Storage.Backend == config.BackendBolt {
		db, err := storage.NewBoltDB(path, nil)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	db, err := storage.NewLevelDB(path)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Close exports metrics, flushes telemetry and releases the database and log
// file.
func (n *node) Close() {
	if n == nil {
		return
	}
	if n.cfg != nil {
		opts := observability.ExportOptions{
			PushGateway: n.cfg.Metrics.PushGateway,
			Job:         n.cfg.Metrics.Job,
			Instance:    n.cfg.Metrics.Instance,
			Textfile:    n.cfg.Metrics.Textfile,
		}
		if opts.Enabled() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := observability.Export(ctx, nil, opts); err != nil {
				n.logger.Warn("metrics export failed", slog.Any("error", err))
			}
			cancel()
		}
	}
	if n.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := n.shutdown(ctx); err != nil {
			n.logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
		cancel()
	}
	if n.db != nil {
		n.db.Close()
	}
	if n.logCloser != nil {
		_ = n.logCloser.Close()
	}
}

// logEmitter writes committed events to the structured log.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(e events.Event) {
	if e == nil {
		return
	}
	evt := e.Event()
	if evt == nil {
		return
	}
	attrs := make([]any, 0, len(evt.Attributes)+1)
	attrs = append(attrs, slog.String("event", evt.Type))
	for k, v := range evt.Attributes {
		attrs = append(attrs, slog.String(k, v))
	}
	l.logger.Info("event", attrs...)
}
