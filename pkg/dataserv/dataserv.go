package dataserv

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/itohio/beltmon/pkg/series"
)

var Version = "dev"

// Provider publishes snapshots. *monitor.Monitor implements it.
type Provider interface {
	Snapshot() series.Snapshot
	OnSnapshot(func(series.Snapshot))
}

// Server serves metrics and snapshots to the visualizer.
type Server struct {
	provider Provider
	gatherer prometheus.Gatherer
	hub      *Hub
	server   *http.Server
}

// New creates a server listening on addr. It subscribes to every published snapshot.
func New(addr string, p Provider, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		provider: p,
		gatherer: gatherer,
		hub:      NewHub(),
	}
	p.OnSnapshot(s.hub.Broadcast)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SetupMux handles all data serving:
// - Prometheus metric endpoint
// - Websocket pushing every snapshot
// - Version for programmatic use
// - Latest snapshot on demand
func (s *Server) SetupMux() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.HandleFunc("/ws", s.WebsocketHandler)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/version", s.VersionHandler).Methods(http.MethodGet)
	api.HandleFunc("/snapshot", s.SnapshotHandler).Methods(http.MethodGet)

	return r
}

// Handler returns the traced router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.SetupMux(), "beltmon")
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	slog.Info("Starting data server", slog.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server and disconnects websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.server.Shutdown(ctx)
}

func (s *Server) VersionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"version": Version})
}

// SnapshotResponse is a snapshot plus where each channel's line is broken by a gap.
type SnapshotResponse struct {
	series.Snapshot
	Breaks map[string][]time.Time `json:"breaks"`
}

// NewSnapshotResponse decimates each channel to maxPoints (0 keeps everything).
// Breaks are computed on the full data so decimation never hides a gap.
func NewSnapshotResponse(snap series.Snapshot, maxPoints int) SnapshotResponse {
	resp := SnapshotResponse{
		Snapshot: snap,
		Breaks:   make(map[string][]time.Time, len(snap.Series)),
	}
	for ch, samples := range snap.Series {
		if breaks := series.Breaks(samples, snap.SegmentGap); len(breaks) > 0 {
			resp.Breaks[ch] = breaks
		}
	}
	if maxPoints > 0 {
		resp.Snapshot = snap.Downsample(maxPoints)
	}
	return resp
}

// SnapshotHandler returns the latest snapshot, optionally decimated with ?max_points=N.
func (s *Server) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	maxPoints := 0
	if v := r.URL.Query().Get("max_points"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "max_points must be a non-negative integer", http.StatusBadRequest)
			return
		}
		maxPoints = n
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(NewSnapshotResponse(s.provider.Snapshot(), maxPoints)); err != nil {
		slog.Error("Could not encode snapshot", slog.Any("error", err))
	}
}
