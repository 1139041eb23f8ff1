package observability

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealthServer exposes the standard grpc.health.v1 service so supervisors that
// speak gRPC probes can watch the daemon.
type GRPCHealthServer struct {
	server *grpc.Server
	health *health.Server
}

// NewGRPCHealthServer creates a health server reporting NOT_SERVING until MarkServing is called
func NewGRPCHealthServer() *GRPCHealthServer {
	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCHealthServer{server: srv, health: hs}
}

// MarkServing flips the overall and per-service status to SERVING
func (g *GRPCHealthServer) MarkServing() {
	g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	g.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
}

// Serve listens on addr until ctx is cancelled, then reports NOT_SERVING and stops
func (g *GRPCHealthServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for grpc health on %s: %w", addr, err)
	}
	return g.ServeListener(ctx, lis)
}

// ServeListener is Serve on an existing listener
func (g *GRPCHealthServer) ServeListener(ctx context.Context, lis net.Listener) error {
	logger := GetLogger()

	go func() {
		<-ctx.Done()
		g.health.Shutdown()
		g.server.GracefulStop()
	}()

	logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server listening")
	if err := g.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc health server: %w", err)
	}
	return nil
}
