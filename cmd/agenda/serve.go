package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"agenda/backend/internal/cache"
	"agenda/backend/internal/config"
	"agenda/backend/internal/notify"
	"agenda/backend/internal/service/booking"
	"agenda/backend/internal/store/postgres"
	grpcTransport "agenda/backend/internal/transport/grpc"
	"agenda/backend/internal/transport/httpapi"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC APIs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap("agenda-api")
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return runServe(cmd.Context(), cfg, log)
		},
	}
}

func runServe(parent context.Context, cfg config.Config, log *zap.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("grpc_addr", cfg.GRPCAddr()),
		zap.String("log_level", cfg.LogLevel),
	)

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	opts := []booking.Option{
		booking.WithLogger(log.With(zap.String("component", "booking"))),
		booking.WithMaxRangeDays(cfg.SlotMaxRangeDays),
	}

	if cfg.RedisAddr != "" {
		slotCache, err := cache.NewSlotCache(cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisCacheDB,
			TTL:      cfg.SlotCacheTTL,
		}, log)
		if err != nil {
			log.Warn("slot cache disabled", zap.Error(err))
		} else {
			defer func() { _ = slotCache.Close() }()
			opts = append(opts, booking.WithCache(slotCache))
		}

		queue := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisQueueDB,
		})
		defer func() { _ = queue.Close() }()
		opts = append(opts, booking.WithNotifier(notify.NewEnqueuer(queue, reminderRetention(cfg), log)))
	} else {
		log.Warn("redis not configured; slot cache and notifications disabled")
	}

	svc := booking.NewService(postgres.NewProviderRepo(db), postgres.NewBookingRepo(db), opts...)

	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(svc, httpapi.RouterConfig{
			RequestTimeout:   cfg.HTTPRequestTimeout,
			CORSAllowOrigins: cfg.CORSAllowOrigins,
			RateLimit:        cfg.BookingRateLimit,
			RateBurst:        cfg.BookingRateBurst,
			AdminToken:       cfg.AdminToken,
			SessionJWTSecret: cfg.SessionJWTSecret,
		}, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer, health := grpcTransport.NewServer(svc, cfg.GRPCRequestTimeout, log)
	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		log.Error("grpc listen failed", zap.Error(err), zap.String("grpc_addr", cfg.GRPCAddr()))
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	log.Info("servers started", zap.String("http_addr", cfg.HTTPAddr), zap.String("grpc_addr", cfg.GRPCAddr()))

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case runErr = <-errCh:
		log.Error("server stopped with error", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown failed", zap.Error(err))
	}
	grpcTransport.Shutdown(log, grpcServer, health, cfg.ShutdownTimeout)

	return runErr
}

func reminderRetention(cfg config.Config) time.Duration {
	return cfg.ReminderLead + 24*time.Hour
}
