package server

import (
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service probed by orchestrators.
const ServiceName = "meet-signal.Coordinator"

// HealthServer exposes grpc.health.v1 on the admin port.
type HealthServer struct {
	log    *slog.Logger
	server *grpc.Server
	health *health.Server
}

func NewHealthServer(log *slog.Logger) *HealthServer {
	server := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{log: log, server: server, health: healthServer}
}

// Serve blocks until GracefulStop.
func (h *HealthServer) Serve(lis net.Listener) error {
	h.log.Info("Admin gRPC server listening", "addr", lis.Addr().String())
	return h.server.Serve(lis)
}

func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}

// GracefulStop reports NOT_SERVING to every watcher, then drains the server.
func (h *HealthServer) GracefulStop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
