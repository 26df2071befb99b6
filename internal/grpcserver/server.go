// Package grpcserver exposes the standard grpc.health.v1 service for the
// market service.
//
// The overall status ("") and the named service status follow the
// scheduler: SERVING while it runs, NOT_SERVING otherwise.
package grpcserver

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is the name reported to health checkers.
const ServiceName = "jobmate.market.MarketService"

// StatusSource reports whether background collection is active.
type StatusSource interface {
	Running() bool
}

// Server wraps a *grpc.Server with a health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	source StatusSource
	log    *slog.Logger
}

// NewServer constructs a Server whose health follows source.
func NewServer(source StatusSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "grpc")
	s := &Server{
		grpc:   grpc.NewServer(grpc.ChainUnaryInterceptor(logUnary(log))),
		health: health.NewServer(),
		source: source,
		log:    log,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.Sync()
	return s
}

// Sync publishes the current status of source.
func (s *Server) Sync() {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if s.source != nil && s.source.Running() {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Watch calls Sync every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sync()
		}
	}
}

// Serve blocks serving on lis.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("grpc listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

// ─── Interceptors ────────────────────────────────────────────────────────────

func logUnary(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug("rpc", "method", info.FullMethod,
			"code", status.Code(err).String(), "took", time.Since(start))
		return resp, err
	}
}
