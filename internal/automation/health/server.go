package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server provides HTTP endpoints and the gRPC health service.
type Server struct {
	monitor    *Monitor
	server     *http.Server
	grpcServer *grpc.Server
	grpcHealth *grpchealth.Server
	grpcPort   int
}

// NewServer creates a new health server. grpcPort 0 disables gRPC.
func NewServer(monitor *Monitor, port, grpcPort int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor: monitor,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		grpcServer: grpc.NewServer(),
		grpcHealth: grpchealth.NewServer(),
		grpcPort:   grpcPort,
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	healthpb.RegisterHealthServer(s.grpcServer, s.grpcHealth)
	s.SetServing(false)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetServing flips the gRPC health status of the engine.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.grpcHealth.SetServingStatus("", status)
	s.grpcHealth.SetServingStatus(ServiceName, status)
}

// ServiceName is the gRPC health service name of the engine.
const ServiceName = "reactor.Engine"

// Start serves HTTP and, when configured, gRPC. It blocks until either fails
// or Stop is called.
func (s *Server) Start() error {
	errc := make(chan error, 2)
	if s.grpcPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.grpcPort))
		if err != nil {
			return fmt.Errorf("failed to listen on grpc port: %w", err)
		}
		go func() { errc <- s.grpcServer.Serve(lis) }()
	}
	go func() {
		err := s.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errc <- err
	}()
	return <-errc
}

// Stop stops both servers.
func (s *Server) Stop(ctx context.Context) error {
	s.grpcHealth.Shutdown()
	s.grpcServer.GracefulStop()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	response := map[string]string{"status": string(report.Status)}
	w.Header().Set("Content-Type", "application/json")

	if report.Status == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
