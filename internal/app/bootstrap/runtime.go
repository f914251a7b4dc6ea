package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"

	"github.com/viralforge/chainraise/internal/adapters/assets"
	cacheadapter "github.com/viralforge/chainraise/internal/adapters/cache"
	eventadapter "github.com/viralforge/chainraise/internal/adapters/events"
	grpcadapter "github.com/viralforge/chainraise/internal/adapters/grpc"
	httpadapter "github.com/viralforge/chainraise/internal/adapters/http"
	"github.com/viralforge/chainraise/internal/adapters/memory"
	"github.com/viralforge/chainraise/internal/adapters/postgres"
	"github.com/viralforge/chainraise/internal/adapters/security"
	"github.com/viralforge/chainraise/internal/application"
	"github.com/viralforge/chainraise/internal/observability"
	"github.com/viralforge/chainraise/internal/ports"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcHealth *health.Server
	grpcLis    net.Listener
	outbox     *eventadapter.OutboxWorker
	cleanupFn  func(context.Context)
}

type storage struct {
	db            *gorm.DB
	campaigns     ports.CampaignRepository
	contributions ports.ContributionRepository
	outbox        ports.OutboxRepository
	idempotency   ports.IdempotencyRepository
	transactor    ports.Transactor
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With("service", cfg.ServiceID)
	slog.SetDefault(logger)
	logger.Info("bootstrapping chainraise escrow service",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"storage_driver", cfg.StorageDriver,
		"lock_driver", cfg.LockDriver,
		"null_asset_policy", string(cfg.NullAssetPolicy),
	)

	var closers []func(context.Context)
	cleanup := func(ctx context.Context) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i](ctx)
		}
	}
	fail := func(err error) (*Runtime, error) {
		cleanup(context.Background())
		return nil, err
	}

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceID, cfg.OTLPEndpoint)
	if err != nil {
		return fail(fmt.Errorf("setup tracing: %w", err))
	}
	closers = append(closers, func(ctx context.Context) { _ = shutdownTracing(ctx) })

	var store storage
	switch cfg.StorageDriver {
	case StoragePostgres:
		db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
		if err != nil {
			return fail(err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fail(fmt.Errorf("gorm sql db: %w", err))
		}
		closers = append(closers, func(context.Context) { _ = sqlDB.Close() })
		if err := postgres.RunMigrations(ctx, db); err != nil {
			return fail(fmt.Errorf("run migrations: %w", err))
		}
		repos := postgres.NewRepositories(db)
		store = storage{db, repos.Campaigns, repos.Contributions, repos.Outbox, repos.Idempotency, repos.Transactor}
	default:
		mem := memory.NewStore()
		store = storage{nil, mem.Campaigns(), mem.Contributions(), mem.Outbox(), mem.Idempotency(), mem}
		logger.Warn("using in-memory storage; state is lost on restart")
	}

	var locker ports.Locker
	switch cfg.LockDriver {
	case LockRedis:
		client, err := cacheadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		closers = append(closers, func(context.Context) { _ = client.Close() })
		locker = cacheadapter.NewRedisLocker(client, cfg.LockTTL)
	default:
		locker = cacheadapter.NewLocalLocker()
	}

	var verifier ports.IdentityVerifier
	if cfg.AuthJWTSecret != "" {
		v, err := security.NewHMACVerifier(cfg.AuthJWTSecret, cfg.AuthJWTIssuer)
		if err != nil {
			return fail(fmt.Errorf("init jwt verifier: %w", err))
		}
		verifier = v
	} else {
		logger.Warn("AUTH_JWT_SECRET not set; bearer values are trusted as principals")
		verifier = security.PassthroughVerifier{}
	}

	book := assetBook(store.db)
	gateway := assets.NewGateway(book, cfg.EscrowAccount)

	eventLog := eventadapter.NewMemoryLog(logger)
	publishers := eventadapter.MultiPublisher{eventLog}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopics)
		if err != nil {
			return fail(fmt.Errorf("init kafka publisher: %w", err))
		}
		closers = append(closers, func(context.Context) { _ = kafka.Close() })
		publishers = append(publishers, kafka)
	} else {
		publishers = append(publishers, eventadapter.NewLoggingPublisher(logger))
	}

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:     cfg.ServiceID,
			NullAssetPolicy: cfg.NullAssetPolicy,
			IdempotencyTTL:  cfg.IdempotencyTTL,
		},
		Campaigns:     store.campaigns,
		Contributions: store.contributions,
		Transactor:    store.transactor,
		Idempotency:   store.idempotency,
		Gateway:       gateway,
		Locker:        locker,
		Logger:        logger,
	})

	deps := httpadapter.HandlerDeps{
		Service:  svc,
		Events:   eventReader(cfg, eventLog),
		Verifier: verifier,
		Logger:   logger,
	}
	if cfg.AssetsMode == AssetsSandbox {
		deps.Book = book
		deps.Gateway = gateway
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpadapter.NewRouter(httpadapter.NewHandler(deps)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(grpcServer, grpcadapter.NewCampaignQueryServer(svc))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return fail(fmt.Errorf("listen gRPC: %w", err))
	}

	outbox := eventadapter.NewOutboxWorker(logger, store.outbox, publishers, cfg.OutboxPollInterval, cfg.OutboxBatchSize, cfg.OutboxMaxRetries)

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcHealth: healthSrv,
		grpcLis:    lis,
		outbox:     outbox,
		cleanupFn:  cleanup,
	}, nil
}

// assetBook keeps sandbox balances in the same database as the campaigns they back.
func assetBook(db *gorm.DB) assets.Book {
	if db != nil {
		return postgres.NewAssetBook(db, assets.DefaultTokens)
	}
	return assets.NewLedger(assets.DefaultTokens)
}

// eventReader serves the event log only from the process that relays the outbox into it.
func eventReader(cfg Config, log *eventadapter.MemoryLog) httpadapter.EventReader {
	if !cfg.OutboxInProcess || log == nil {
		return nil
	}
	return log
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		r.logger.Info("grpc server started", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	if r.cfg.OutboxInProcess {
		g.Go(func() error {
			r.logger.Info("outbox relay started in-process")
			if err := r.outbox.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("outbox relay: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			r.logger.Info("shutdown signal received")
		}
		r.grpcHealth.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = r.httpServer.Shutdown(shutdownCtx)
		r.grpcServer.GracefulStop()
		return nil
	})

	err := g.Wait()
	if err != nil {
		r.logger.Error("server failure", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	return err
}

// RunWorker relays the shared outbox from a dedicated process. Only meaningful with
// postgres storage; the memory store is private to the API process.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.cleanupFn(shutdownCtx)
	}()
	_ = r.grpcLis.Close()
	if r.cfg.StorageDriver != StoragePostgres {
		return fmt.Errorf("worker requires storage driver postgres, got %q", r.cfg.StorageDriver)
	}

	r.logger.Info("outbox worker started")
	err := r.outbox.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
