// Package remote exposes the metronome over HTTP so phones, foot pedals
// with a web hook, or scripts can drive it.
package remote

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"

	"go-metronome/debug"
	"go-metronome/sequencer"
)

// Controller is what the server drives; *sequencer.Manager implements it.
type Controller interface {
	Snapshot() sequencer.Snapshot
	Play() error
	Stop()
	Toggle() error
	Tap()
	SetBPM(bpm float64)
	Nudge(delta float64)
	Half()
	Double()
	SetPattern(name string) error
	SetVoice(id string) error
	SetVolume(percent float64)
}

// Server is the HTTP server
type Server struct {
	addr   string
	ctrl   Controller
	router *chi.Mux
}

// New creates a new server
func New(addr string, ctrl Controller) *Server {
	s := &Server{
		addr:   addr,
		ctrl:   ctrl,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.Recoverer)
	r.Use(logRequests)

	r.Get("/health", s.handleHealth)
	r.Get("/state", s.handleState)

	r.Post("/transport/{action}", s.handleTransport)

	r.Put("/bpm/{bpm}", s.handleSetBPM)
	r.Post("/bpm/nudge/{delta}", s.handleNudge)
	r.Post("/bpm/half", s.handleHalf)
	r.Post("/bpm/double", s.handleDouble)

	r.Put("/pattern/{name}", s.handlePattern)
	r.Put("/voice/{id}", s.handleVoice)
	r.Put("/volume/{volume}", s.handleVolume)
}

// logRequests writes each request to the debug log; stdout belongs to the TUI.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		debug.Log("http", "%s %s %d %v", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		debug.Log("http", "listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, "listen %s", s.addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	if err := <-errCh; err != http.ErrServerClosed {
		return err
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Warn("http", "encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeState answers with the state after a change.
func (s *Server) writeState(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeState(w)
}

func (s *Server) handleTransport(w http.ResponseWriter, r *http.Request) {
	var err error
	switch chi.URLParam(r, "action") {
	case "start":
		err = s.ctrl.Play()
	case "stop":
		s.ctrl.Stop()
	case "toggle":
		err = s.ctrl.Toggle()
	case "tap":
		s.ctrl.Tap()
	default:
		writeError(w, http.StatusNotFound, "unknown transport action")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeState(w)
}

func parseNumber(r *http.Request, param string) (float64, error) {
	v, err := strconv.ParseFloat(chi.URLParam(r, param), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) {
		return 0, errors.New("not a number")
	}
	return v, nil
}

func (s *Server) handleSetBPM(w http.ResponseWriter, r *http.Request) {
	bpm, err := parseNumber(r, "bpm")
	if err != nil || bpm <= 0 {
		writeError(w, http.StatusBadRequest, "bpm must be a positive number")
		return
	}
	s.ctrl.SetBPM(bpm)
	s.writeState(w)
}

func (s *Server) handleNudge(w http.ResponseWriter, r *http.Request) {
	delta, err := parseNumber(r, "delta")
	if err != nil {
		writeError(w, http.StatusBadRequest, "delta must be a number")
		return
	}
	s.ctrl.Nudge(delta)
	s.writeState(w)
}

func (s *Server) handleHalf(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Half()
	s.writeState(w)
}

func (s *Server) handleDouble(w http.ResponseWriter, r *http.Request) {
	s.ctrl.Double()
	s.writeState(w)
}

// pathParam returns a URL parameter unescaped; pattern names contain
// spaces and ampersands.
func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func (s *Server) handlePattern(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.SetPattern(pathParam(r, "name")); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeState(w)
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.SetVoice(pathParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeState(w)
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	vol, err := parseNumber(r, "volume")
	if err != nil {
		writeError(w, http.StatusBadRequest, "volume must be a number")
		return
	}
	s.ctrl.SetVolume(vol)
	s.writeState(w)
}

func statusFor(err error) int {
	switch errors.Cause(err) {
	case sequencer.ErrUnknownPattern, sequencer.ErrUnknownVoice:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
