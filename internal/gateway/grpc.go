// ABOUTME: gRPC health service reporting SERVING while the backend pool has an open slot
// ABOUTME: Lets orchestrators probe the gateway with the standard grpc_health_v1 protocol

package gateway

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/asr-gateway/internal/pool"
)

// HealthService is the service name reported alongside the overall ("") status.
const HealthService = "asr.Gateway"

// healthPollInterval is how often pool state is copied into the health server.
const healthPollInterval = 2 * time.Second

type poolStats interface {
	Stats() pool.Stats
}

type healthReporter struct {
	pool   poolStats
	server *health.Server
	logger *slog.Logger
	last   healthpb.HealthCheckResponse_ServingStatus
}

func newHealthServer(p poolStats, logger *slog.Logger) (*grpc.Server, *healthReporter) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)

	hr := &healthReporter{
		pool:   p,
		server: health.NewServer(),
		logger: logger,
		last:   healthpb.HealthCheckResponse_UNKNOWN,
	}
	healthpb.RegisterHealthServer(server, hr.server)
	hr.update()
	return server, hr
}

// update copies the pool's current state into the health server.
func (h *healthReporter) update() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if h.pool.Stats().Open > 0 {
		status = healthpb.HealthCheckResponse_SERVING
	}
	if status == h.last {
		return
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(HealthService, status)
	h.logger.Info("health status changed", "status", status.String())
	h.last = status
}

// watch polls the pool until ctx is done, then reports NOT_SERVING.
func (h *healthReporter) watch(ctx context.Context) {
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.update()
		}
	}
}
