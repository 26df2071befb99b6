package grpcserver_test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"jobmate/market-service/internal/grpcserver"
)

type flag struct{ v atomic.Bool }

func (f *flag) Running() bool { return f.v.Load() }

func dial(t *testing.T, srv *grpcserver.Server) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("check %q: %v", service, err)
	}
	return resp.Status
}

func TestHealth_FollowsSource(t *testing.T) {
	src := &flag{}
	srv := grpcserver.NewServer(src, nil)
	c := dial(t, srv)

	if got := check(t, c, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("stopped source: status = %v", got)
	}

	src.v.Store(true)
	srv.Sync()
	for _, svc := range []string{"", grpcserver.ServiceName} {
		if got := check(t, c, svc); got != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("%q: status = %v, want SERVING", svc, got)
		}
	}
}
