package grpcx

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/barberdesk/barberdesk/libs/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type pingRequest struct {
	Msg string `json:"msg"`
}

type pingResponse struct {
	Msg       string `json:"msg"`
	Sub       string `json:"sub"`
	RequestID string `json:"request_id"`
}

type pingServer struct{}

func (pingServer) Ping(ctx context.Context, req *pingRequest) (*pingResponse, error) {
	if req.Msg == "panic" {
		panic("boom")
	}
	resp := &pingResponse{Msg: req.Msg, RequestID: RequestIDFromContext(ctx)}
	if c, ok := ClaimsFromContext(ctx); ok {
		resp.Sub = c.Subject
	}
	return resp, nil
}

var pingDesc = grpc.ServiceDesc{
	ServiceName: "test.Ping",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Ping",
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(pingRequest)
			if err := dec(in); err != nil {
				return nil, err
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/test.Ping/Ping"}
			handler := func(ctx context.Context, req any) (any, error) {
				return srv.(pingServer).Ping(ctx, req.(*pingRequest))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			return interceptor(ctx, in, info, handler)
		},
	}},
}

func startPingServer(t *testing.T, secret string) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)), ServerOptions{AuthSecret: secret})
	srv.RegisterService(&pingDesc, pingServer{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestJSONCodecAuthAndRequestID(t *testing.T) {
	addr := startPingServer(t, "secret")
	token, err := auth.SignHS256(auth.NewClaims("staff-7", "", auth.RoleBarber, time.Hour), "secret")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	conn, err := Dial(addr, DialOptions{Token: token})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx = WithRequestID(ctx, "req-1")

	var header metadata.MD
	out := new(pingResponse)
	if err := conn.Invoke(ctx, "/test.Ping/Ping", &pingRequest{Msg: "hi"}, out, grpc.Header(&header)); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.Msg != "hi" || out.Sub != "staff-7" || out.RequestID != "req-1" {
		t.Fatalf("unexpected response %+v", out)
	}
	if got := header.Get(RequestIDMetadataKey); len(got) != 1 || got[0] != "req-1" {
		t.Fatalf("expected request id header, got %v", got)
	}

	err = conn.Invoke(ctx, "/test.Ping/Ping", &pingRequest{Msg: "panic"}, new(pingResponse))
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal after panic, got %v", err)
	}
}

func TestAuthRejectsMissingToken(t *testing.T) {
	addr := startPingServer(t, "secret")
	conn, err := Dial(addr, DialOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = conn.Invoke(ctx, "/test.Ping/Ping", &pingRequest{Msg: "hi"}, new(pingResponse))
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}
