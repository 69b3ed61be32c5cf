package grpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewServer builds a gRPC server with the booking service and the standard
// health service registered.
func NewServer(svc bookingService, requestTimeout time.Duration, log *zap.Logger) (*grpc.Server, *health.Server) {
	s := grpc.NewServer(
		grpc.UnaryInterceptor(DefaultRequestTimeoutInterceptor(requestTimeout)),
	)
	RegisterBookingServer(s, NewBookingServer(svc, log))

	hs := health.NewServer()
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s, hs
}

func DefaultRequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

// Shutdown stops gracefully, forcing a stop after timeout.
func Shutdown(log *zap.Logger, s *grpc.Server, hs *health.Server, timeout time.Duration) {
	log.Info("shutting down grpc server", zap.Duration("timeout", timeout))
	if hs != nil {
		hs.Shutdown()
	}

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-timer.C:
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}
