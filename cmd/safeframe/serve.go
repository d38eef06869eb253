package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/chatabc/open-safe-frame/internal/api"
	"github.com/chatabc/open-safe-frame/internal/auth"
	"github.com/chatabc/open-safe-frame/internal/backend"
	"github.com/chatabc/open-safe-frame/internal/config"
	"github.com/chatabc/open-safe-frame/internal/constraint"
	"github.com/chatabc/open-safe-frame/internal/guard"
	"github.com/chatabc/open-safe-frame/internal/metrics"
	"github.com/chatabc/open-safe-frame/internal/registry"
	"github.com/chatabc/open-safe-frame/internal/server"
	"github.com/chatabc/open-safe-frame/internal/session"
	"github.com/chatabc/open-safe-frame/internal/storage"
	"github.com/chatabc/open-safe-frame/internal/wire/safeframev1"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hook gRPC server and the operator HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := mustBuildLogger(cfg.LogLevel, "stdout")
		defer logger.Sync() //nolint:errcheck // best-effort flush

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting safeframe",
		zap.String("grpc_port", cfg.GRPCPort),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("backend", cfg.Backend.Provider),
		zap.String("mode", cfg.Mode),
	)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Analysis pipeline
	p, err := buildPipeline(cfg, m.ObserveBackend, logger)
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	defer p.Close()

	// Override secret
	secret, err := loadSecret(cfg)
	if err != nil {
		return fmt.Errorf("override secret: %w", err)
	}
	var verifier constraint.SecretVerifier
	if secret != nil {
		verifier = secret
	} else {
		logger.Warn("no override secret configured: privileged constraints cannot be removed and password confirmations fall back to simple")
	}

	// Auth and tool profiles: Postgres if configured, else the static key
	var authenticator auth.Authenticator
	var profiles registry.ProfileRegistry = registry.NewStaticRegistry(cfg.Profiles())
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		authenticator = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       db,
			CacheTTL: cfg.AuthCacheTTL,
			Logger:   logger,
		})
		profiles = registry.Layered{
			registry.NewPostgresRegistry(registry.PostgresRegistryConfig{
				DB:       db,
				CacheTTL: cfg.RegistryCacheTTL,
				Logger:   logger,
			}),
			profiles,
		}
		logger.Info("postgres connected")
	} else {
		if cfg.StaticAPIKey == "" {
			return errors.New("either database_url or static_api_key must be set")
		}
		authenticator = auth.NewStaticAuthenticator(auth.StaticAuthConfig{
			APIKey:   cfg.StaticAPIKey,
			TenantID: cfg.StaticTenantID,
			Mode:     cfg.Mode,
			FailOpen: cfg.FailOpen,
		})
		logger.Info("using static authenticator", zap.String("tenant_id", cfg.StaticTenantID))
	}

	// Audit trail: ClickHouse or log writer plus in-memory ring
	writer, reader, chConn := openAudit(ctx, cfg, logger)
	if chConn != nil {
		defer func() { _ = chConn.Close() }()
	}
	defer writer.Close()

	// Sessions
	sessions := session.NewRegistry(session.RegistryConfig{
		NewLedger: func(tenantID, key string) *constraint.Ledger {
			return constraint.NewLedger(constraint.LedgerConfig{
				Extractor:     p.extractor,
				Secret:        verifier,
				HistoryWindow: cfg.Backend.HistoryWindow,
				Logger:        logger.With(zap.String("tenant_id", tenantID), zap.String("session_key", key)),
			})
		},
		HistoryLimit: cfg.HistoryLimit,
		Logger:       logger,
	})
	defer sessions.Close()
	metrics.RegisterSessionGauge(reg, sessions.Len)

	svc := guard.New(guard.Config{
		Sessions: sessions,
		Assessor: p.coordinator,
		Profiles: profiles,
		Writer:   writer,
		Metrics:  m,
		Secret:   verifier,
		Logger:   logger,
	})

	// gRPC server
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(server.AuthInterceptor(authenticator, logger)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 10 * time.Second,
			Time:                  30 * time.Second,
			Timeout:               5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(4*1024*1024),
		grpc.MaxSendMsgSize(4*1024*1024),
	)
	safeframev1.RegisterSafeFrameServiceServer(grpcServer, server.NewHookServer(svc, logger))
	if cfg.Backend.Expose && p.analyzer != nil {
		backend.RegisterAnalysisServer(grpcServer, p.analyzer)
		logger.Info("analysis service exposed", zap.String("provider", cfg.Backend.Provider))
	}

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(safeframev1.ServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.GRPCPort, err)
	}

	// HTTP API
	httpServer := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(&api.Dependencies{
			Guard:    svc,
			Auth:     authenticator,
			Reader:   reader,
			Metrics:  m,
			Gatherer: reg,
			Logger:   logger.Named("http"),
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sweepIdleSessions(gctx, sessions, cfg.SessionIdleTTL, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthServer.SetServingStatus(safeframev1.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", zap.Error(err))
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("safeframe stopped")
	return nil
}

// openAudit picks the assessment event sink and the reader serving /v1/assessments.
// A ClickHouse failure falls back to the log writer, like a missing DSN.
func openAudit(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.EventWriter, storage.EventReader, driver.Conn) {
	if cfg.ClickHouseDSN != "" {
		conn, err := storage.Open(cfg.ClickHouseDSN)
		if err == nil {
			err = storage.Migrate(ctx, conn)
			if err != nil {
				_ = conn.Close()
			}
		}
		if err == nil {
			logger.Info("clickhouse connected")
			return storage.NewClickHouseWriter(conn, logger), storage.NewReader(conn, logger), conn
		}
		logger.Warn("clickhouse connection failed, falling back to log writer", zap.Error(err))
	} else {
		logger.Info("no clickhouse_dsn set, using log writer")
	}
	mem := storage.NewMemoryStore(cfg.AuditBufferSize)
	return storage.MultiWriter{storage.NewLogWriter(logger), mem}, mem, nil
}

// sweepIdleSessions ends sessions idle longer than ttl until ctx is done.
func sweepIdleSessions(ctx context.Context, sessions *session.Registry, ttl time.Duration, logger *zap.Logger) {
	if ttl <= 0 {
		<-ctx.Done()
		return
	}
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := sessions.Sweep(ttl)
			logger.Debug("session sweep", zap.Int("evicted", n), zap.Int("remaining", sessions.Len()))
		}
	}
}
