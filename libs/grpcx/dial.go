package grpcx

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
)

type DialOptions struct {
	// TransportCredentials defaults to insecure, which suits local development
	// and clusters where a mesh terminates mTLS.
	TransportCredentials grpc.DialOption
	// Token, when set, is sent as a bearer token on every call.
	Token string
}

// Dial creates a client connection that speaks the JSON codec.
// The connection is lazy; the first RPC establishes it.
func Dial(addr string, opts DialOptions, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(UnaryClientRequestIDInterceptor()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(JSONCodecName)),
	}
	insecureTransport := opts.TransportCredentials == nil
	if insecureTransport {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		dialOpts = append(dialOpts, opts.TransportCredentials)
	}
	if opts.Token != "" {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(BearerCredentials{Token: opts.Token, Insecure: insecureTransport}))
	}
	return grpc.NewClient(addr, append(dialOpts, extra...)...)
}
