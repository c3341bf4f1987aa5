package grpcx

import (
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

type ServerOptions struct {
	// AuthSecret enables bearer-token auth when set.
	AuthSecret    string
	PublicMethods []string
}

// NewServer builds a gRPC server with tracing, request ids, access logs,
// panic recovery and optional staff auth, in that order.
func NewServer(logger *slog.Logger, opts ServerOptions, extra ...grpc.ServerOption) *grpc.Server {
	chain := []grpc.UnaryServerInterceptor{
		UnaryServerRequestIDInterceptor(),
		UnaryServerLoggingInterceptor(logger),
		UnaryServerRecoveryInterceptor(logger),
	}
	if opts.AuthSecret != "" {
		chain = append(chain, UnaryServerAuthInterceptor(opts.AuthSecret, opts.PublicMethods...))
	}
	serverOpts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(chain...),
	}
	return grpc.NewServer(append(serverOpts, extra...)...)
}
