package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// newMetricsMux отдаёт /metrics и HTTP health checks.
func newMetricsMux(healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

// newOpsGRPCServer - gRPC health и reflection для оркестратора и grpcurl.
func newOpsGRPCServer() (*grpc.Server, *health.Server) {
	interceptors := metrics.NewGRPCServerMetrics(prometheus.DefaultRegisterer)
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(interceptors.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(interceptors.StreamServerInterceptor()),
	)

	status := health.NewServer()
	healthpb.RegisterHealthServer(srv, status)
	reflection.Register(srv)
	interceptors.InitializeMetrics(srv)
	status.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return srv, status
}

// serveUntilDone запускает serve и ждёт отмены ctx или ошибки сервера.
// После отмены вызывается stop; closed - ошибка штатной остановки.
func serveUntilDone(ctx context.Context, serve func() error, stop func(), closed error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- serve() }()

	select {
	case <-ctx.Done():
		stop()
		return nil
	case err := <-errCh:
		if errors.Is(err, closed) {
			return nil
		}
		return err
	}
}

func serveHTTP(ctx context.Context, name string, srv *http.Server, lis net.Listener, logger *log.Entry) error {
	logger = logger.WithFields(log.Fields{"server": name, "addr": lis.Addr().String()})
	logger.Info("listening")

	return serveUntilDone(ctx, func() error { return srv.Serve(lis) }, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("shutdown interrupted")
		}
	}, http.ErrServerClosed)
}

// serveGRPC снимает SERVING до GracefulStop. Зависшие стримы обрываются
// через shutdownTimeout.
func serveGRPC(ctx context.Context, srv *grpc.Server, status *health.Server, lis net.Listener, logger *log.Entry) error {
	logger = logger.WithFields(log.Fields{"server": "grpc", "addr": lis.Addr().String()})
	logger.Info("listening")

	return serveUntilDone(ctx, func() error { return srv.Serve(lis) }, func() {
		status.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopped := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(stopped)
		}()

		timer := time.NewTimer(shutdownTimeout)
		defer timer.Stop()
		select {
		case <-stopped:
		case <-timer.C:
			logger.Warn("graceful stop timed out")
			srv.Stop()
		}
	}, grpc.ErrServerStopped)
}
