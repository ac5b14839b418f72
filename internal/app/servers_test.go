package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
)

func TestMetricsMux_Endpoints(t *testing.T) {
	healthHandler := healthcheck.NewHandler("test")
	healthHandler.RegisterChecker("storage", func(context.Context) error {
		return errors.New("down")
	})
	srv := httptest.NewServer(newMetricsMux(healthHandler))
	t.Cleanup(srv.Close)

	tests := []struct {
		path string
		code int
	}{
		{path: "/metrics", code: http.StatusOK},
		{path: "/livez", code: http.StatusOK},
		{path: "/healthz", code: http.StatusServiceUnavailable},
		{path: "/readyz", code: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		resp, err := http.Get(srv.URL + tt.path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, tt.code, resp.StatusCode, tt.path)
	}
}

func TestServeGRPC_HealthAndShutdown(t *testing.T) {
	logger := log.WithField("test", "grpc")
	lis := bufconn.Listen(1 << 20)
	grpcServer, healthServer := newOpsGRPCServer()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveGRPC(ctx, grpcServer, healthServer, lis, logger) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	callCtx, callCancel := context.WithTimeout(context.Background(), time.Second)
	defer callCancel()
	resp, err := healthpb.NewHealthClient(conn).Check(callCtx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * shutdownTimeout):
		t.Fatal("grpc server did not stop")
	}
}

func TestServeHTTP_StopsOnCancel(t *testing.T) {
	logger := log.WithField("test", "http")
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &http.Server{Handler: http.HandlerFunc(healthcheck.LivenessHandler), ReadHeaderTimeout: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveHTTP(ctx, "test", srv, lis, logger) }()

	resp, err := http.Get("http://" + lis.Addr().String() + "/livez")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	assert.NoError(t, <-done)
}
