package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "referral-system/internal/health/handler"
	"referral-system/internal/server/interceptors"
)

// healthCheckMethod is not logged on success; probes call it constantly.
const healthCheckMethod = "/grpc.health.v1.Health/Check"

// GRPCDeps holds dependencies for the ops gRPC server.
type GRPCDeps struct {
	// HealthPinger backs grpc.health.v1.Health. If nil, Check always reports SERVING.
	HealthPinger healthhandler.Pinger
	Logger       *zap.Logger
}

// NewGRPCServer returns the ops gRPC server with OTel stats and request logging.
func NewGRPCServer(deps GRPCDeps, opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.LoggingUnary(deps.Logger, map[string]bool{healthCheckMethod: true}),
		),
	}
	s := grpc.NewServer(append(base, opts...)...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers the ops services with the given registrar.
func RegisterServices(s grpc.ServiceRegistrar, deps GRPCDeps) {
	healthpb.RegisterHealthServer(s, healthhandler.NewServer(deps.HealthPinger))
}
