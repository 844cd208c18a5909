// Package interceptors holds gRPC server interceptors for the ops server.
package interceptors

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingUnary returns a unary server interceptor that logs each RPC with its status code and duration.
// skipMethods is the set of full method names not logged on success (e.g. health probes).
func LoggingUnary(log *zap.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	if log == nil {
		log = zap.NewNop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		if code == codes.OK && skipMethods[info.FullMethod] {
			return resp, err
		}
		fields := []zap.Field{
			zap.String("full_method", info.FullMethod),
			zap.String("status_code", code.String()),
			zap.Duration("duration", time.Since(start)),
		}
		switch code {
		case codes.OK:
			log.Info("grpc request", fields...)
		case codes.Internal, codes.Unknown, codes.Unavailable, codes.DataLoss:
			log.Error("grpc request failed", append(fields, zap.Error(err))...)
		default:
			log.Warn("grpc request rejected", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}
