// Package status serves the HTTP status endpoints of a running process:
// Prometheus metrics, a JSON state snapshot, per-client request counts,
// process resource usage and an on-demand CPU profile summary.
package status

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/process"

	"go-tankloop/logger"
)

const (
	defaultProfileDuration = time.Second
	maxProfileDuration     = 30 * time.Second
	profileTopFunctions    = 10
)

type Server struct {
	log      logger.Logger
	gatherer prometheus.Gatherer
	state    func() any
	clients  func() map[string]int64

	router *mux.Router
	srv    *http.Server
	ln     net.Listener
}

type Option func(*Server)

// WithState sets the source of the /api/state snapshot.
func WithState(state func() any) Option {
	return func(s *Server) { s.state = state }
}

// WithClients sets the source of the /api/clients request counts.
func WithClients(clients func() map[string]int64) Option {
	return func(s *Server) { s.clients = clients }
}

func NewServer(log logger.Logger, gatherer prometheus.Gatherer, opts ...Option) *Server {
	s := &Server{log: log, gatherer: gatherer}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.HandleFunc("/api/state", s.getState).Methods(http.MethodGet)
	r.HandleFunc("/api/clients", s.listClients).Methods(http.MethodGet)
	r.HandleFunc("/api/resource", s.listResources).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", s.collectProfile).Methods(http.MethodGet)
	s.router = r

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	s.log.Info("status server listening", "address", ln.Addr().String())

	return nil
}

func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve handles requests until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to write status response", "error", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, code int, err error) {
	s.log.Warn("status request failed", "code", code, "error", err)
	http.Error(w, err.Error(), code)
}

func (s *Server) getState(w http.ResponseWriter, _ *http.Request) {
	if s.state == nil {
		http.NotFound(w, nil)
		return
	}

	s.writeJSON(w, s.state())
}

func (s *Server) listClients(w http.ResponseWriter, _ *http.Request) {
	clients := map[string]int64{}
	if s.clients != nil {
		clients = s.clients()
	}

	s.writeJSON(w, clients)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (s *Server) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	memoryInfo, err := proc.MemoryInfo()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, resourceRsp{CPUPercent: cpuPercent, MemorySize: memoryInfo.RSS})
}

type functionSamples struct {
	Function string `json:"function"`
	Samples  int64  `json:"samples"`
}

type profileRsp struct {
	DurationNanos int64             `json:"duration_nanos"`
	SampleCount   int               `json:"sample_count"`
	Top           []functionSamples `json:"top"`
}

// collectProfile records a CPU profile for ?duration= (default 1s) and returns
// the functions with the most leaf samples.
func (s *Server) collectProfile(w http.ResponseWriter, r *http.Request) {
	duration := defaultProfileDuration
	if v := r.URL.Query().Get("duration"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 || d > maxProfileDuration {
			s.fail(w, http.StatusBadRequest, errors.New("duration must be between 0 and 30s"))
			return
		}
		duration = d
	}

	buf := bytes.NewBuffer(nil)
	if err := pprof.StartCPUProfile(buf); err != nil {
		s.fail(w, http.StatusConflict, err)
		return
	}

	select {
	case <-time.After(duration):
	case <-r.Context().Done():
	}
	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, summarizeProfile(prof))
}

func summarizeProfile(prof *profile.Profile) profileRsp {
	byFunction := map[string]int64{}
	for _, sample := range prof.Sample {
		if len(sample.Location) == 0 || len(sample.Location[0].Line) == 0 || len(sample.Value) == 0 {
			continue
		}
		fn := sample.Location[0].Line[0].Function
		if fn == nil {
			continue
		}
		byFunction[fn.Name] += sample.Value[0]
	}

	top := make([]functionSamples, 0, len(byFunction))
	for name, n := range byFunction {
		top = append(top, functionSamples{Function: name, Samples: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Samples != top[j].Samples {
			return top[i].Samples > top[j].Samples
		}
		return top[i].Function < top[j].Function
	})
	if len(top) > profileTopFunctions {
		top = top[:profileTopFunctions]
	}

	return profileRsp{
		DurationNanos: prof.DurationNanos,
		SampleCount:   len(prof.Sample),
		Top:           top,
	}
}
