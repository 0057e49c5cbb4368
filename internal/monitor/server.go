// Package monitor serves the robot's state over HTTP: JSON endpoints for
// the distance map and the workers, Prometheus metrics, and debug pages
// under /debug/.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/autocar/internal/fusion"
	"github.com/banshee-data/autocar/internal/monitoring"
	"github.com/banshee-data/autocar/internal/serialmux"
	"github.com/banshee-data/autocar/internal/worker"
)

// ANSI escape codes for the request log.
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Robot is the state the monitor exposes.
type Robot interface {
	DistanceMap() fusion.DistanceMap
	Statuses() []worker.Status
	Worker(name string) (*worker.Worker, bool)
}

type Server struct {
	robot    Robot
	bridge   serialmux.SerialMuxInterface
	gatherer prometheus.Gatherer
}

// NewServer returns a monitor for robot. bridge may be a disabled mux;
// gatherer backs /metrics and defaults to the global registry.
func NewServer(robot Robot, bridge serialmux.SerialMuxInterface, gatherer prometheus.Gatherer) *Server {
	if bridge == nil {
		bridge = serialmux.NewDisabledSerialMux()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{robot: robot, bridge: bridge, gatherer: gatherer}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration of every request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the monitor's routes, debug pages included.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/distance-map", s.showDistanceMap)
	mux.HandleFunc("/api/workers", s.listWorkers)
	mux.HandleFunc("/api/command", s.sendCommand)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.AttachAdminRoutes(mux)
	s.bridge.AttachAdminRoutes(mux)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type distanceMapResponse struct {
	fusion.DistanceMap
	Nearest *fusion.Bin `json:"nearest,omitempty"`
}

func (s *Server) showDistanceMap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	m := s.robot.DistanceMap()
	if m.Bins == nil {
		m.Bins = []fusion.Bin{}
	}
	resp := distanceMapResponse{DistanceMap: m}
	if b, ok := m.Nearest(); ok {
		resp.Nearest = &b
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write distance map")
	}
}

func (s *Server) listWorkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.robot.Statuses()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write worker status")
	}
}

// commandRequest addresses one worker. Command takes the shapes the command
// channel accepts: "stop", ["increaseSpeed", [0.1]] or
// ["setStepSize", {"step": 1.4}].
type commandRequest struct {
	Worker  string          `json:"worker"`
	Command json.RawMessage `json:"command"`
}

func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req commandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	wk, ok := s.robot.Worker(req.Worker)
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no worker %q", req.Worker))
		return
	}
	var raw any
	if err := json.Unmarshal(req.Command, &raw); err != nil || raw == nil {
		s.writeJSONError(w, http.StatusBadRequest, "missing command")
		return
	}
	if err := wk.Send(raw); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "queued", "worker": wk.Name()})
}

// Serve runs handler on addr until ctx is done, then shuts the server down.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("monitor listening on %s", addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("monitor server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("monitor shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Logf("monitor force close error: %v", err)
		}
	}
	return nil
}
