// Package status serves the live state of a bulletin run over HTTP.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Snapshot struct {
	Occupied        bool      `json:"occupied"`
	OccupancyUpdate time.Time `json:"occupancy_updated,omitempty"`
	Session         string    `json:"session"`
	Phase           string    `json:"phase"`
	Section         string    `json:"section,omitempty"`
	ElapsedSeconds  float64   `json:"elapsed_s"`
	Pauses          int       `json:"pauses"`
	Keyed           bool      `json:"keyed"`
}

type Source interface {
	Snapshot() Snapshot
}

type Server struct {
	mu     sync.RWMutex
	source Source
	port   int
	srv    *http.Server
	logger zerolog.Logger
}

func NewServer(port int) *Server {
	s := &Server{
		port:   port,
		srv:    &http.Server{Addr: fmt.Sprintf(":%d", port), ReadHeaderTimeout: 5 * time.Second},
		logger: log.Logger,
	}
	s.srv.Handler = s.Handler()
	return s
}

func (s *Server) SetSource(src Source) {
	s.mu.Lock()
	s.source = src
	s.mu.Unlock()
}

func (s *Server) snapshot() (Snapshot, bool) {
	s.mu.RLock()
	src := s.source
	s.mu.RUnlock()
	if src == nil {
		return Snapshot{}, false
	}
	return src.Snapshot(), true
}

func (s *Server) Handler() http.Handler {
	handler := httprouter.New()

	handler.GET("/status", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		snap, ok := s.snapshot()
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			s.logger.Warn().Err(err).Msg("error writing status")
		}
	})

	handler.GET("/healthz", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if _, ok := s.snapshot(); !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok\n"))
	})

	return handler
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Run serves until ctx is done or Stop is called.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Int("port", s.port).Msg("status server starting")

	err := s.srv.ListenAndServe()
	switch {
	case err == http.ErrServerClosed:
		return nil
	default:
		return err
	}
}
