package grpcx

import (
	"context"

	"github.com/barberdesk/barberdesk/libs/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ClaimsFromContext returns the verified staff claims of the current call.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims).(*auth.Claims)
	return c, ok
}

func WithClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, c)
}

// UnaryServerAuthInterceptor requires an HS256 bearer token in the
// "authorization" metadata. Methods listed in public skip the check.
func UnaryServerAuthInterceptor(secret string, public ...string) grpc.UnaryServerInterceptor {
	skip := make(map[string]bool, len(public))
	for _, m := range public {
		skip[m] = true
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if skip[info.FullMethod] {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		var raw string
		if vals := md.Get("authorization"); len(vals) > 0 {
			raw = vals[0]
		}
		token, ok := auth.BearerToken(raw)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		claims, err := auth.ParseAndVerifyHS256(token, secret)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(WithClaims(ctx, claims), req)
	}
}

// BearerCredentials attaches a static bearer token to every call.
type BearerCredentials struct {
	Token    string
	Insecure bool
}

func (b BearerCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.Token}, nil
}

func (b BearerCredentials) RequireTransportSecurity() bool { return !b.Insecure }
