package app

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/floorsync/internal/blob/s3"
	"github.com/alanyoungcy/floorsync/internal/chain"
	"github.com/alanyoungcy/floorsync/internal/domain"
	"github.com/alanyoungcy/floorsync/internal/events"
	"github.com/alanyoungcy/floorsync/internal/fanout"
	"github.com/alanyoungcy/floorsync/internal/ingest"
	"github.com/alanyoungcy/floorsync/internal/protocol"
	queueredis "github.com/alanyoungcy/floorsync/internal/queue/redis"
	"github.com/alanyoungcy/floorsync/internal/reconcile"
	"github.com/alanyoungcy/floorsync/internal/server"
	"github.com/alanyoungcy/floorsync/internal/server/handler"
	"github.com/alanyoungcy/floorsync/internal/server/ws"
)

// components holds the assembled processing graph shared by the modes: the
// fan-out bus, the reconciler, the block pipeline, and the ingestion service.
type components struct {
	bus        *fanout.Bus
	hub        *ws.Hub
	reconciler *reconcile.Reconciler
	ingest     *ingest.Service
	pipeline   *ingest.BlockPipeline
}

// build assembles the processing graph on top of the wired dependencies. The
// hub is created but only registered on the bus (and run) by modes that serve
// websocket clients.
func (a *App) build(deps *Dependencies) (*components, error) {
	bus := fanout.NewBus(a.logger)
	bus.Register(fanout.NewActivityLogger(a.logger))
	bus.Register(fanout.NewNotifierListener(deps.Notifier))

	hub := ws.NewHub(a.logger)

	reconciler := reconcile.NewReconciler(
		deps.Tokens, deps.TokenSets, deps.Collections, deps.Locks, bus, a.logger)

	prober := ingest.NewChainProber(deps.Chain, map[domain.OrderKind]common.Address{
		domain.OrderKindSeaport:   common.HexToAddress(a.cfg.Contracts.SeaportConduit),
		domain.OrderKindZeroExV4:  common.HexToAddress(a.cfg.Contracts.ZeroExV4),
		domain.OrderKindLooksRare: common.HexToAddress(a.cfg.Contracts.LooksRareTransferManager),
		domain.OrderKindX2Y2:      common.HexToAddress(a.cfg.Contracts.X2Y2Delegate),
	})

	ingestSvc := ingest.NewService(ingest.Config{
		FilteredSources:   a.cfg.Ingest.FilteredSources,
		RevalidationBatch: a.cfg.Ingest.RevalidationBatch,
	}, deps.Orders, deps.Tokens, deps.TokenSets, deps.Collections,
		deps.Facts, deps.Nonces, deps.Queue, prober, a.logger)

	registry := events.NewRegistry(events.Addresses{
		Seaport:   common.HexToAddress(a.cfg.Contracts.Seaport),
		ZeroExV4:  common.HexToAddress(a.cfg.Contracts.ZeroExV4),
		LooksRare: common.HexToAddress(a.cfg.Contracts.LooksRare),
		X2Y2:      common.HexToAddress(a.cfg.Contracts.X2Y2),
	})
	classifier := events.NewClassifier(registry, a.logger)

	handlers, err := protocol.NewHandlerRegistry(a.logger,
		protocol.NewSeaportHandler(a.logger),
		protocol.NewZeroExV4Handler(protocol.ZeroExV4Config{
			Exchange: common.HexToAddress(a.cfg.Contracts.ZeroExV4),
			ChainID:  big.NewInt(a.cfg.Chain.ChainID),
		}, ingestSvc, deps.Orders, a.logger),
		protocol.NewLooksRareHandler(a.logger),
		protocol.NewX2Y2Handler(a.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("app: build handler registry: %w", err)
	}

	syncer := chain.NewSyncer(deps.Chain, deps.Blocks, deps.Facts, deps.Watermarks, deps.Queue, a.logger)
	pipeline := ingest.NewBlockPipeline(syncer, classifier, handlers, ingestSvc, a.logger)

	return &components{
		bus:        bus,
		hub:        hub,
		reconciler: reconciler,
		ingest:     ingestSvc,
		pipeline:   pipeline,
	}, nil
}

// SyncMode follows the chain head and processes block sync jobs. It is the
// write-side of the system: blocks in, facts and reconcile jobs out.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")

	c, err := a.build(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startBlockSync(ctx, g, deps, c)
	return g.Wait()
}

// WorkerMode consumes reconcile jobs and runs the maintenance sweeps and the
// event archiver.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	c, err := a.build(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps, c)
	return g.Wait()
}

// ServeMode runs the HTTP API and websocket hub only. Order submissions still
// enqueue reconcile jobs; a worker elsewhere picks them up.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	c, err := a.build(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps, c)
	return g.Wait()
}

// FullMode runs every subsystem in one process: head following, block sync,
// reconciliation, maintenance, archiving, and the API server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	c, err := a.build(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startBlockSync(ctx, g, deps, c)
	a.startWorkers(ctx, g, deps, c)
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, c)
	}
	return g.Wait()
}

// startBlockSync launches the head follower and the block-sync queue
// consumer.
func (a *App) startBlockSync(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *components) {
	consumer := queueredis.NewConsumer(deps.Queue, queueredis.ConsumerConfig{
		Queue:       chain.QueueBlockSync,
		Concurrency: a.cfg.Queue.SyncConcurrency,
		MaxAttempts: a.cfg.Queue.MaxAttempts,
		BackoffBase: a.cfg.Queue.BackoffBase.Duration,
	}, c.pipeline.HandleSyncJob)

	g.Go(func() error {
		return consumer.Run(ctx)
	})
	g.Go(func() error {
		return c.pipeline.FollowHead(ctx, a.cfg.Chain.PollInterval.Duration, a.cfg.Chain.ReorgDepth)
	})
}

// startWorkers launches the reconcile consumer, the maintenance loop, and the
// archiver when blob storage is wired.
func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *components) {
	consumer := queueredis.NewConsumer(deps.Queue, queueredis.ConsumerConfig{
		Queue:       reconcile.QueueName,
		Concurrency: a.cfg.Queue.ReconcileConcurrency,
		MaxAttempts: a.cfg.Queue.MaxAttempts,
		BackoffBase: a.cfg.Queue.BackoffBase.Duration,
	}, c.reconciler.HandleJob)

	g.Go(func() error {
		return consumer.Run(ctx)
	})
	g.Go(func() error {
		return c.ingest.MaintenanceLoop(ctx,
			a.cfg.Ingest.ExpiryInterval.Duration,
			a.cfg.Ingest.RevalidateInterval.Duration)
	})

	if deps.BlobWriter != nil {
		archiver := s3blob.NewArchiver(deps.BlobWriter, deps.CacheEvents, a.logger)
		g.Go(func() error {
			return archiver.Run(ctx, a.cfg.Archive.Interval.Duration, a.cfg.Archive.Retention.Duration)
		})
	}
}

// startServer registers the websocket hub on the bus and launches the HTTP
// server with a graceful shutdown watcher.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *components) {
	c.bus.Register(c.hub)
	g.Go(func() error {
		return c.hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Orders: handler.NewOrderHandler(c.ingest, deps.Orders, a.logger),
		Prices: handler.NewPriceHandler(deps.Tokens, deps.Collections, a.logger),
		Admin:  handler.NewAdminHandler(c.ingest, deps.Queue, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, c.hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
