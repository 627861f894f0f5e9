package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/mcr-lab/mcr/internal/embed"
	"github.com/mcr-lab/mcr/internal/llm"
	"github.com/mcr-lab/mcr/pkg/mcr"
	"github.com/mcr-lab/mcr/pkg/mcr/config"
	"github.com/mcr-lab/mcr/pkg/mcr/deduce"
	"github.com/mcr-lab/mcr/pkg/mcr/internalerr"
	"github.com/mcr-lab/mcr/pkg/mcr/perf/sqlite"
	"github.com/mcr-lab/mcr/pkg/mcr/reason/prologengine"
	"github.com/mcr-lab/mcr/pkg/mcr/router"
	"github.com/mcr-lab/mcr/pkg/mcr/session"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "Listen address")
		configPath = flag.String("config", "", "Config file (optional, defaults apply)")
		maxConns   = flag.Int("max-conns", 256, "Maximum concurrent connections")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx := context.Background()

	svc, cleanup, err := buildService(ctx, *configPath, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer cleanup()

	srv := &server{svc: svc, log: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", srv.health)
	mux.HandleFunc("POST /sessions", srv.createSession)
	mux.HandleFunc("GET /sessions/list", srv.listSessions)
	mux.HandleFunc("GET /sessions/{id}", srv.getSession)
	mux.HandleFunc("POST /sessions/{id}/assert", srv.assert)
	mux.HandleFunc("POST /sessions/{id}/query", srv.query)
	mux.HandleFunc("PUT /sessions/{id}/kb", srv.setKB)

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatal("listen failed", zap.Error(err))
	}
	ln = netutil.LimitListener(ln, *maxConns)

	httpSrv := &http.Server{
		Handler:           srv.trace(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("listening", zap.String("addr", *addr), zap.Int("max_conns", *maxConns))
	if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("serve failed", zap.Error(err))
	}
}

type server struct {
	svc *mcr.Service
	log *zap.Logger
}

// trace tags every request with an X-Trace-ID, generating one when the
// client did not send one, and logs the request with it.
func (s *server) trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Trace-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Trace-ID", id)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(withTrace(r.Context(), id)))
		s.log.Info("request",
			zap.String("trace_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

type traceKey struct{}

func withTrace(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) createSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.CreateSession(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *server) listSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.svc.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": ids})
}

func (s *server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type textRequest struct {
	Text string `json:"text"`
}

func (s *server) assert(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	res, err := s.svc.Assert(r.Context(), r.PathValue("id"), req.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) query(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	res, err := s.svc.Ask(r.Context(), r.PathValue("id"), req.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type kbRequest struct {
	KnowledgeBase string `json:"knowledgeBase"`
}

func (s *server) setKB(w http.ResponseWriter, r *http.Request) {
	var req kbRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	sess, err := s.svc.SetKnowledgeBase(r.Context(), r.PathValue("id"), req.KnowledgeBase)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, internalerr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, internalerr.ErrValidation), errors.Is(err, internalerr.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, internalerr.ErrBackend):
		status = http.StatusBadGateway
	}
	if id, ok := r.Context().Value(traceKey{}).(string); ok {
		s.log.Warn("request failed",
			zap.String("trace_id", id), zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func buildService(ctx context.Context, configPath string, logger *zap.Logger) (*mcr.Service, func(), error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}

	sessions, err := session.NewFileStore(cfg.Storage.SessionDir)
	if err != nil {
		return nil, nil, err
	}

	perfStore, err := sqlite.Open(ctx, cfg.Storage.PerfDB)
	if err != nil {
		return nil, nil, err
	}

	engine := prologengine.New()
	engine.Timeout = cfg.Reasoner.QueryTimeout.Std()
	engine.MaxSolutions = cfg.Reasoner.MaxSolutions

	opts := mcr.Options{
		Gen:      llm.NewClient(cfg.Model),
		Reasoner: engine,
		Sessions: sessions,
		Perf:     perfStore,
		RouterConfig: router.Config{
			SuccessWeight:      cfg.Router.SuccessWeight,
			LatencyWeight:      cfg.Router.LatencyWeight,
			CostWeight:         cfg.Router.CostWeight,
			ExactMatchWeight:   cfg.Router.ExactMatchWeight,
			PartialMatchWeight: cfg.Router.PartialMatchWeight,
		},
		Deduction: deduce.Config{
			DefaultConfidence: cfg.Deduction.DefaultConfidence,
			Hypotheses:        cfg.Deduction.Hypotheses,
		},
		Threshold:     cfg.Deduction.Threshold,
		MaxIterations: cfg.Refine.MaxIterations,
		ModelID:       cfg.Model.Name,
		Log:           logger,
	}
	if cfg.Embedding.BaseURL != "" {
		emb, err := embed.NewClient(cfg.Embedding)
		if err != nil {
			return nil, nil, err
		}
		opts.Embedder = emb
	}

	svc, err := mcr.New(opts)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		perfStore.Close()
	}
	return svc, cleanup, nil
}
