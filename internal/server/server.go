package server

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opssat/sidloc"
	api "github.com/opssat/sidloc/internal/http"
)

// FrontDoorConfig configures the monitoring and control HTTP server.
type FrontDoorConfig struct {
	ListenAddr   string              // address to bind (e.g. :8090)
	FrontDoor    sidloc.FrontDoor    // required
	Gatherer     prometheus.Gatherer // optional; /metrics is not served when nil
	Logger       *log.Logger         // optional; defaults to log.Default()
	ReadTimeout  time.Duration       // optional
	WriteTimeout time.Duration       // optional
	IdleTimeout  time.Duration       // optional
}

var ErrNilFrontDoor = errors.New("front door server: front door is nil")

// NewMux returns the routes served by the front door.
func NewMux(cfg FrontDoorConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/parameters", api.ParametersHandler(cfg.FrontDoor))
	mux.HandleFunc("/api/status", api.StatusHandler(cfg.FrontDoor))
	mux.HandleFunc("/api/actions/record", api.RecordHandler(cfg.FrontDoor))
	mux.HandleFunc("/api/actions/fetch", api.FetchHandler(cfg.FrontDoor))
	mux.HandleFunc("/api/close", api.CloseHandler(cfg.FrontDoor))
	if cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// FrontDoorServer is a running front door. It is stopped by Shutdown, which
// the lifecycle manager calls before a host triggered exit.
type FrontDoorServer struct {
	srv    *http.Server
	ln     net.Listener
	logger *log.Logger
	errCh  chan error
}

// StartFrontDoor binds cfg.ListenAddr and serves the front door in the
// background. Bind errors are returned immediately.
func StartFrontDoor(cfg FrontDoorConfig) (*FrontDoorServer, error) {
	if cfg.FrontDoor == nil {
		return nil, ErrNilFrontDoor
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8090"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, err
	}

	s := &FrontDoorServer{
		srv: &http.Server{
			Handler:      NewMux(cfg),
			ReadTimeout:  durationOr(cfg.ReadTimeout, 10*time.Second),
			WriteTimeout: durationOr(cfg.WriteTimeout, 10*time.Second),
			IdleTimeout:  durationOr(cfg.IdleTimeout, 60*time.Second),
			ErrorLog:     cfg.Logger,
		},
		ln:     ln,
		logger: cfg.Logger,
		errCh:  make(chan error, 1),
	}
	go s.serve()
	return s, nil
}

func (s *FrontDoorServer) serve() {
	s.logger.Printf("front door listening on %s", s.ln.Addr())
	if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.errCh <- err
	}
	close(s.errCh)
}

// Addr is the bound address, useful with a :0 listen address.
func (s *FrontDoorServer) Addr() string { return s.ln.Addr().String() }

// Err receives a terminal serve error, if any, and is closed when serving stops.
func (s *FrontDoorServer) Err() <-chan error { return s.errCh }

// Shutdown stops accepting requests and waits for in-flight ones until ctx ends.
func (s *FrontDoorServer) Shutdown(ctx context.Context) error {
	s.logger.Printf("front door shutting down")
	return s.srv.Shutdown(ctx)
}

func durationOr(v time.Duration, d time.Duration) time.Duration {
	if v <= 0 {
		return d
	}
	return v
}
