package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"officeflow.org/internal/obs"
)

// GRPCHealth mirrors readiness into the standard grpc.health.v1 service.
type GRPCHealth struct {
	server    *health.Server
	readiness readinessChecker
	logger    *zap.Logger
}

// NewGRPCHealth creates the health service wrapper.
func NewGRPCHealth(r readinessChecker) *GRPCHealth {
	if r == nil {
		r = ReadyProbe{}
	}
	h := &GRPCHealth{
		server:    health.NewServer(),
		readiness: r,
		logger:    obs.Logger(),
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// NewGRPCServer builds a gRPC server exposing the health service.
func NewGRPCServer(h *GRPCHealth, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, h.server)
	return srv
}

// Sync evaluates readiness once and publishes the result.
func (h *GRPCHealth) Sync(ctx context.Context) bool {
	if err := h.readiness.Check(ctx); err != nil {
		h.logger.Warn("grpc readiness check failed", zap.Error(err))
		obs.SetReady(false)
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	obs.SetReady(true)
	h.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Watch re-evaluates readiness every interval until ctx ends.
func (h *GRPCHealth) Watch(ctx context.Context, interval time.Duration) {
	h.Sync(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sync(ctx)
		}
	}
}

// Shutdown marks every service as not serving.
func (h *GRPCHealth) Shutdown() { h.server.Shutdown() }

func (h *GRPCHealth) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(serviceName, status)
}
