// server runs the referral HTTP API and the ops gRPC server (health checks).
package main

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	accounthandler "referral-system/internal/account/handler"
	"referral-system/internal/account/repository"
	"referral-system/internal/account/service"
	"referral-system/internal/codegen"
	"referral-system/internal/config"
	"referral-system/internal/db"
	"referral-system/internal/db/migrate"
	"referral-system/internal/devotp"
	devotphandler "referral-system/internal/devotp/handler"
	"referral-system/internal/logger"
	"referral-system/internal/revocation"
	"referral-system/internal/security"
	"referral-system/internal/server"
	"referral-system/internal/sms"
	"referral-system/internal/telemetry"
	telemetryotel "referral-system/internal/telemetry/otel"
	"referral-system/internal/telemetry/producer"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Options{
		Format:  cfg.LogFormat,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Service: cfg.ServiceName,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Warn("otel shutdown", zap.Error(err))
		}
	}()

	metrics, err := telemetry.NewMetrics(providers.MeterProvider.Meter(telemetry.MeterName))
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	var emitters []telemetry.EventEmitter
	kafkaProducer, err := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.EventsKafkaTopic)
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	if kafkaProducer != nil {
		defer kafkaProducer.Close()
		emitters = append(emitters, kafkaProducer)
		log.Info("account events publishing to kafka", zap.String("topic", cfg.EventsKafkaTopic))
	}
	if cfg.OTLPEndpoint != "" {
		emitters = append(emitters, telemetryotel.NewEventEmitter(providers.LoggerProvider))
	}
	events := telemetry.Combine(emitters...)

	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	tokens, err := newTokenProvider(cfg, log)
	if err != nil {
		return err
	}

	var revoked revocation.Store
	if cfg.RedisAddr != "" {
		rs, closeRedis, err := revocation.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			return err
		}
		defer closeRedis()
		revoked = rs
	} else {
		log.Info("REDIS_ADDR not set; token revocations are kept in memory")
		revoked = revocation.NewMemoryStore()
	}

	var outbox devotp.Store
	var devHandler *devotphandler.Handler
	if cfg.OTPReturnToClient && !cfg.IsProduction() {
		mem := devotp.NewMemoryStore()
		outbox = mem
		devHandler = devotphandler.NewHandler(mem)
		log.Warn("dev OTP mode enabled: verification codes are returned to clients")
	}

	svc := service.NewAccountService(service.Config{
		Repo:              repo,
		Codes:             codegen.New(nil),
		Sender:            sms.NewOutboxSender(outbox, cfg.CodeTTL(), log),
		Delay:             sms.RandomDelay(cfg.DispatchDelayMin(), cfg.DispatchDelayMax()),
		Events:            events,
		Metrics:           metrics,
		Logger:            log,
		CodeTTL:           cfg.CodeTTL(),
		MaxInviteAttempts: cfg.InviteCodeMaxAttempts,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.NewRouter(server.HTTPDeps{
		Accounts: accounthandler.NewHandler(svc, tokens, revoked, accounthandler.Options{
			ReturnCode: cfg.OTPReturnToClient,
			CodeTTL:    cfg.CodeTTL(),
		}, log),
		Tokens:  tokens,
		Revoked: revoked,
		DevOTP:  devHandler,
		Logger:  log,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}
	grpcSrv := server.NewGRPCServer(server.GRPCDeps{HealthPinger: repo, Logger: log})

	errCh := make(chan error, 2)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()
	go func() {
		log.Info("gRPC ops server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	if events != nil {
		time.Sleep(telemetry.ShutdownDrainDuration)
	}
	log.Info("servers stopped")
	return serveErr
}

// openRepository returns the Postgres store when DATABASE_URL is set and the memory store otherwise.
func openRepository(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Repository, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set; using in-memory account store")
		return repository.NewMemoryRepository(), func() {}, nil
	}
	if cfg.AutoMigrate {
		if err := migrate.Run(cfg.DatabaseURL, migrate.Up); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("database migrations applied")
	}
	sqlDB, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	return repository.NewPostgresRepository(sqlDB), func() { _ = sqlDB.Close() }, nil
}

// newTokenProvider loads the configured key pair, or generates an ephemeral ES256 key outside production.
func newTokenProvider(cfg *config.Config, log *zap.Logger) (*security.TokenProvider, error) {
	var (
		signer crypto.Signer
		pub    crypto.PublicKey
	)
	if cfg.JWTPrivateKey != "" {
		s, p, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("jwt keys: %w", err)
		}
		signer, pub = s, p
	} else {
		key, err := security.GenerateEphemeralKey()
		if err != nil {
			return nil, fmt.Errorf("jwt keys: %w", err)
		}
		log.Warn("JWT_PRIVATE_KEY not set; using an ephemeral ES256 key, tokens will not survive a restart")
		signer, pub = key, key.Public()
	}
	return security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
}
