// Package handler implements grpc.health.v1.Health backed by a store ping.
package handler

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const pingTimeout = 2 * time.Second

// ServiceName is the service name reported alongside the overall ("") status.
const ServiceName = "referral.v1.Referral"

// Pinger checks that a dependency is reachable (e.g. the account repository).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server implements the standard gRPC health service for readiness and liveness probes.
type Server struct {
	healthpb.UnimplementedHealthServer
	pinger Pinger
}

// NewServer returns a health server. A nil pinger always reports SERVING.
func NewServer(pinger Pinger) *Server {
	return &Server{pinger: pinger}
}

// Check reports SERVING when the store answers a ping, NOT_SERVING otherwise.
// A ping failure is reported in the status, not as an RPC error.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	switch req.GetService() {
	case "", ServiceName:
	default:
		return nil, status.Error(codes.NotFound, "unknown service")
	}
	if s.pinger == nil {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.pinger.Ping(pingCtx); err != nil {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

// List returns the status of every known service.
func (s *Server) List(ctx context.Context, req *healthpb.HealthListRequest) (*healthpb.HealthListResponse, error) {
	resp, err := s.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return nil, err
	}
	return &healthpb.HealthListResponse{Statuses: map[string]*healthpb.HealthCheckResponse{
		"":          resp,
		ServiceName: resp,
	}}, nil
}
