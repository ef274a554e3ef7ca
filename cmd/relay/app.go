package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/fwojciec/relay"
	"github.com/fwojciec/relay/agent"
	"github.com/fwojciec/relay/cache"
	"github.com/fwojciec/relay/config"
	relayjson "github.com/fwojciec/relay/json"
	"github.com/fwojciec/relay/logger"
	"github.com/fwojciec/relay/mcp"
	"github.com/fwojciec/relay/nats"
	"github.com/fwojciec/relay/order"
	"github.com/fwojciec/relay/postgres"
	"github.com/fwojciec/relay/provider"
	"github.com/fwojciec/relay/telemetry"
)

// app holds the components shared by the commands.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	log      *order.Log
	registry *provider.Registry
	executor *mcp.Executor
	loop     *agent.Loop

	closers []func() error
}

// newApp wires storage, publishing, telemetry, adapters and tools from cfg.
// The caller must call close.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{
		cfg:    cfg,
		logger: logger.New(cfg.Log, os.Stderr),
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()
	ctx = a.logger.WithContext(ctx)

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return shutdown(context.WithoutCancel(ctx)) })

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	var opts []order.Option
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { nc.Close(); return nil })
		opts = append(opts, order.WithPublisher(nats.NewPublisher(nc, cfg.NATS.SubjectPrefix)))
	}
	a.log = order.NewLog(store, opts...)

	pcfg, err := registryConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.registry = provider.New(pcfg)

	a.executor, err = connectTools(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.executor.Close)

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return nil, err
	}
	a.loop = agent.New(a.executor,
		agent.WithAppender(a.log),
		agent.WithMetrics(metrics),
		agent.WithMaxIterations(cfg.Agent.MaxIterations),
	)
	return a, nil
}

// openStore selects postgres when a DSN is configured and JSON files
// otherwise, behind the read cache when it has a budget.
func (a *app) openStore(ctx context.Context) (relay.Store, error) {
	var store relay.Store
	if dsn := a.cfg.Store.DSN; dsn != "" {
		pool, err := postgres.NewPool(ctx, dsn)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		store = postgres.NewStore(pool)
	} else {
		store = relayjson.NewFileStore(a.cfg.Store.DataDir)
	}

	if a.cfg.Store.CacheBytes == 0 {
		return store, nil
	}
	cached, err := cache.New(store, a.cfg.Store.CacheBytes)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	a.closers = append(a.closers, func() error { cached.Close(); return nil })
	return cached, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
