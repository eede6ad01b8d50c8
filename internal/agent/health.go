package agent

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const HealthServiceName = "monetai-agent"

// Readiness reports whether the SDK session is ready.
type Readiness interface {
	Initialized() bool
}

// SyncHealth mirrors SDK readiness into the gRPC health server once.
func SyncHealth(hs *health.Server, sdk Readiness) grpc_health_v1.HealthCheckResponse_ServingStatus {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if sdk.Initialized() {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	hs.SetServingStatus(HealthServiceName, status)
	hs.SetServingStatus("", status)
	return status
}

// WatchHealth calls SyncHealth every interval until ctx is done.
func WatchHealth(ctx context.Context, hs *health.Server, sdk Readiness, interval time.Duration) {
	SyncHealth(hs, sdk)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			SyncHealth(hs, sdk)
		case <-ctx.Done():
			return
		}
	}
}
