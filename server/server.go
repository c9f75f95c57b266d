package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"logbook_autofill/config"
	"logbook_autofill/generator"
	"logbook_autofill/publisher"
)

// jobWait bounds how long a request queues for a free generation slot.
const jobWait = 30 * time.Second

var errTooManyJobs = errors.New("too many generation jobs running, please try again later")

type Server struct {
	agent  *generator.Agent
	cfg    config.ServerConfig
	store  *sessionStore
	jobs   *semaphore.Weighted
	logger *zap.Logger
}

type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*generator.Session
}

func newStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*generator.Session)}
}

func (s *sessionStore) set(id string, sess *generator.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = sess
}

func (s *sessionStore) get(id string) (*generator.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func New(agent *generator.Agent, cfg config.ServerConfig, logger *zap.Logger) (*Server, error) {
	if agent == nil {
		return nil, errors.New("generator agent required")
	}
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 1
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		agent:  agent,
		cfg:    cfg,
		store:  newStore(),
		jobs:   semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		logger: logger,
	}, nil
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logMiddleware)
	r.Use(middleware.Recoverer)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/templates", s.handleTemplates)
		r.Post("/logbooks", s.handleLogbookCreate)
		r.Post("/logbooks/infer", s.handleLogbookInfer)
		r.Get("/logbooks/{id}", s.handleLogbookGet)
		r.Post("/logbooks/{id}/generate", s.handleLogbookGenerate)
		r.Post("/logbooks/{id}/fix", s.handleLogbookFix)
		r.Get("/logbooks/{id}/report", s.handleLogbookReport)
	})
	return r
}

// --- Handlers ---

type logbookCreateReq struct {
	TemplateID string                      `json:"templateId"`
	Config     *generator.SimulationConfig `json:"config"`
}

type generateReq struct {
	Config *generator.SimulationConfig `json:"config"`
}

type fixReq struct {
	Rows []int `json:"rows"`
}

type errorResp struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	templates, err := generator.BuiltinTemplates()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (s *Server) handleLogbookCreate(w http.ResponseWriter, r *http.Request) {
	var req logbookCreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	t, err := generator.BuiltinTemplate(req.TemplateID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	cfg := generator.DefaultSimulationConfig(time.Now())
	if req.Config != nil {
		cfg = *req.Config
	}
	if err := cfg.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	id := uuid.NewString()
	sess := generator.NewSession(id, t, cfg, s.agent)
	s.store.set(id, sess)
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleLogbookInfer(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid upload: " + err.Error()})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "file field is required"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	cfg, err := configFromForm(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}

	ctx, release, err := s.acquireJob(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer release()

	id := uuid.NewString()
	sess, err := generator.NewInferredSession(ctx, id, data, mimeType, cfg, s.agent)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.store.set(id, sess)
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleLogbookGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleLogbookGenerate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req generateReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
	}
	if req.Config != nil {
		if err := sess.SetConfig(*req.Config); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
	}

	ctx, release, err := s.acquireJob(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer release()

	if _, err := sess.Generate(ctx); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleLogbookFix(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req fixReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if len(req.Rows) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "rows must list at least one row index"})
		return
	}

	ctx, release, err := s.acquireJob(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer release()

	if _, err := sess.FixRows(ctx, req.Rows); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleLogbookReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	view := sess.Snapshot()
	lb := publisher.Logbook{
		Template:    view.Template,
		Config:      view.Config,
		Rows:        view.Rows,
		GeneratedAt: time.Now(),
	}
	if strings.EqualFold(r.URL.Query().Get("format"), "md") {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = io.WriteString(w, publisher.RenderMarkdown(lb))
		return
	}
	page, err := publisher.RenderHTML(lb)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, page)
}

// --- Helpers ---

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*generator.Session, bool) {
	id := chi.URLParam(r, "id")
	sess, ok := s.store.get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResp{Error: "logbook not found"})
		return nil, false
	}
	return sess, true
}

// acquireJob takes a generation slot and returns a context bounded by the job timeout.
func (s *Server) acquireJob(ctx context.Context) (context.Context, func(), error) {
	waitCtx, cancelWait := context.WithTimeout(ctx, jobWait)
	defer cancelWait()
	if err := s.jobs.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, errTooManyJobs
	}
	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	return jobCtx, func() {
		cancel()
		s.jobs.Release(1)
	}, nil
}

func configFromForm(r *http.Request) (generator.SimulationConfig, error) {
	cfg := generator.DefaultSimulationConfig(time.Now())
	if v := r.FormValue("mode"); v != "" {
		mode, err := generator.ParseMode(v)
		if err != nil {
			return cfg, err
		}
		cfg.Mode = mode
	}
	for name, dst := range map[string]*int{"fillRate": &cfg.FillRate, "anomalyRate": &cfg.AnomalyRate} {
		if v := r.FormValue(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return cfg, fmt.Errorf("%s must be an integer", name)
			}
			*dst = n
		}
	}
	if v := r.FormValue("targetPeriod"); v != "" {
		cfg.TargetPeriod = v
	}
	return cfg, cfg.Validate()
}

// writeError maps core errors onto HTTP statuses for the UI.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, generator.ErrSessionBusy):
		writeJSON(w, http.StatusConflict, errorResp{Error: err.Error()})
		return
	case errors.Is(err, generator.ErrInvalidSelection):
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	case errors.Is(err, errTooManyJobs):
		writeJSON(w, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorResp{Error: "generation timed out"})
		return
	}
	category, msg := generator.Describe(err)
	status := http.StatusInternalServerError
	switch category {
	case generator.CategoryQuota:
		status = http.StatusTooManyRequests
	case generator.CategoryOverload:
		status = http.StatusServiceUnavailable
	case generator.CategoryAuth, generator.CategoryDecode:
		status = http.StatusBadGateway
	}
	s.logger.Warn("request failed", zap.String("category", string(category)), zap.Error(err))
	writeJSON(w, status, errorResp{Error: msg, Category: string(category)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		path := r.URL.Path
		if path == "" {
			path = "/"
		}
		s.logger.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}
