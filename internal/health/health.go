// Package health exposes service readiness over the standard gRPC health protocol.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ChatService is the service name reporting whether the chat proxy can serve requests.
const ChatService = "neurobot.chat"

// Pinger checks a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KeyCounter reports how many upstream credentials are configured.
type KeyCounter interface {
	PoolSize() int
}

// Server serves grpc.health.v1.Health.
type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
	db     Pinger
	keys   KeyCounter
	logger *slog.Logger
}

// NewServer creates a health server. Call Refresh to publish the first statuses.
func NewServer(db Pinger, keys KeyCounter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gs := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    2 * time.Minute,
		Timeout: 10 * time.Second,
	}))
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{grpc: gs, health: hs, db: db, keys: keys, logger: logger}
}

// Refresh recomputes statuses: the overall status follows the database, the chat
// service additionally needs at least one upstream key.
func (s *Server) Refresh(ctx context.Context) {
	overall := healthpb.HealthCheckResponse_SERVING
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Warn("Health check: database unavailable", "error", err)
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}

	chat := overall
	if s.keys.PoolSize() == 0 {
		chat = healthpb.HealthCheckResponse_NOT_SERVING
	}

	s.health.SetServingStatus("", overall)
	s.health.SetServingStatus(ChatService, chat)
}

// Check answers a health query in-process.
func (s *Server) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Serve accepts connections on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc health server: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.logger.Info("gRPC health server listening", "addr", addr)
	return s.Serve(lis)
}

// Shutdown marks every service NOT_SERVING and stops the server gracefully.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
