package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	_ "github.com/lib/pq"

	"github.com/rulekit/rulekit/enginerr"
	"github.com/rulekit/rulekit/internal/logger"
	"github.com/rulekit/rulekit/resolver"
	"github.com/rulekit/rulekit/rules"
)

type Server struct {
	db     *sql.DB
	store  rules.RuleSetStore
	cache  rules.RuleSetCache
	engine *rules.Engine
	router *chi.Mux
}

// Config collects the environment knobs the server reads at startup.
type Config struct {
	Port          string
	DatabaseURL   string // rule-set persistence; in-memory store when empty
	BusinessDBURL string // default database for rule requirements
	RuleDBURL     string // default db_source: rule database
	RedisURL      string // rule-set cache; in-memory cache when empty
	CacheTTL      time.Duration
}

func loadConfig() Config {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := Config{
		Port:          os.Getenv("PORT"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		BusinessDBURL: os.Getenv("BUSINESS_DB_URL"),
		RuleDBURL:     os.Getenv("RULE_DB_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		CacheTTL:      5 * time.Minute,
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.RuleDBURL == "" {
		cfg.RuleDBURL = cfg.DatabaseURL
	}
	if ttl := os.Getenv("CACHE_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			logger.Fatal("invalid CACHE_TTL", "value", ttl, "error", err)
		}
		cfg.CacheTTL = d
	}
	return cfg
}

func NewServer(cfg Config) (*Server, error) {
	s := &Server{}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, enginerr.Newf(enginerr.TypeConfiguration, "failed to open rule database: %v", err)
		}
		if err := db.Ping(); err != nil {
			return nil, enginerr.Newf(enginerr.TypeDatabaseConnection, "failed to ping rule database: %v", err)
		}
		s.db = db
		s.store = rules.NewPostgresRuleSetStore(db)
		logger.Info("using postgres rule-set store")
	} else {
		s.store = rules.NewInMemoryRuleSetStore()
		logger.Info("using in-memory rule-set store")
	}

	cacheCfg := rules.CacheConfig{TTL: cfg.CacheTTL}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, enginerr.Newf(enginerr.TypeConfiguration, "invalid REDIS_URL: %v", err)
		}
		s.cache = rules.NewRedisRuleSetCache(redis.NewClient(opts), "rulesets", cacheCfg)
		logger.Info("using redis rule-set cache")
	} else {
		s.cache = rules.NewInMemoryRuleSetCache(cacheCfg)
	}

	engine, err := rules.NewEngine(resolver.New(cfg.BusinessDBURL, cfg.RuleDBURL))
	if err != nil {
		return nil, err
	}
	s.engine = engine

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/api/v1/health", s.handleHealth)

	// Evaluation
	r.Post("/api/v1/evaluate", s.handleEvaluate)

	// Rule-set management
	r.Route("/api/v1/rulesets", func(r chi.Router) {
		r.Get("/", s.handleListRuleSets)
		r.Post("/", s.handleCreateRuleSet)

		r.Route("/{ruleSetId}", func(r chi.Router) {
			r.Get("/", s.handleGetRuleSet)
			r.Put("/", s.handleUpdateRuleSet)
			r.Delete("/", s.handleDeleteRuleSet)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleEvaluate runs one rule set against the supplied context. The rule set
// comes either inline or by ID from the store. Evaluation itself never fails
// the HTTP request: rule failures and evaluation errors are reported inside
// the execution result.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, enginerr.TypeValidation, "invalid request body", err)
		return
	}
	if req.Context == nil {
		respondError(w, http.StatusBadRequest, enginerr.TypeValidation, "context is required", nil)
		return
	}

	ruleSet := req.RuleSet
	if ruleSet == nil {
		if req.RuleSetID == "" {
			respondError(w, http.StatusBadRequest, enginerr.TypeValidation, "rule_set or rule_set_id is required", nil)
			return
		}
		var err error
		ruleSet, err = s.store.Get(req.RuleSetID)
		if err != nil {
			respondError(w, http.StatusNotFound, enginerr.TypeValidation, "rule set not found", err)
			return
		}
	}

	engine := s.engine
	if req.BusinessDBURL != "" || req.RuleDBURL != "" {
		// Per-request database overrides get their own engine so concurrent
		// requests never see each other's URLs. Pools are still shared.
		rv := resolver.New(req.BusinessDBURL, req.RuleDBURL)
		if req.BusinessDBURL == "" {
			rv.BusinessDBURL = s.engine.Resolver().BusinessDBURL
		}
		if req.RuleDBURL == "" {
			rv.RuleDBURL = s.engine.Resolver().RuleDBURL
		}
		var err error
		engine, err = rules.NewEngine(rv)
		if err != nil {
			respondError(w, http.StatusInternalServerError, enginerr.TypeGeneral, "failed to build engine", err)
			return
		}
	}

	started := time.Now()
	result := engine.ExecuteRuleSet(r.Context(), ruleSet, req.Context)
	elapsed := time.Since(started)
	if elapsed > time.Second {
		logger.WarnSlowResolution("slow rule-set evaluation",
			"rule_set_id", result.RuleSetID, "elapsed", elapsed.String())
	}

	respondJSON(w, http.StatusOK, EvaluateResponse{
		Result:         result,
		EvaluationTime: elapsed.String(),
	})
}

func (s *Server) handleListRuleSets(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")

	if target != "" {
		if cached := s.cache.Get(target); cached != nil {
			respondJSON(w, http.StatusOK, RuleSetListResponse{RuleSets: cached})
			return
		}
		ruleSets, err := s.store.ListByTarget(target)
		if err != nil {
			respondError(w, http.StatusInternalServerError, enginerr.TypeOf(err), "failed to list rule sets", err)
			return
		}
		s.cache.Set(target, ruleSets)
		respondJSON(w, http.StatusOK, RuleSetListResponse{RuleSets: ruleSets})
		return
	}

	ruleSets, err := s.store.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, enginerr.TypeOf(err), "failed to list rule sets", err)
		return
	}
	respondJSON(w, http.StatusOK, RuleSetListResponse{RuleSets: ruleSets})
}

func (s *Server) handleCreateRuleSet(w http.ResponseWriter, r *http.Request) {
	var rs rules.RuleSet
	if err := json.NewDecoder(r.Body).Decode(&rs); err != nil {
		respondError(w, http.StatusBadRequest, enginerr.TypeValidation, "invalid rule set", err)
		return
	}
	if rs.Rules == nil {
		respondError(w, http.StatusBadRequest, enginerr.TypeValidation, "rules are required", nil)
		return
	}

	if err := s.store.Add(&rs); err != nil {
		respondError(w, http.StatusConflict, enginerr.TypeValidation, "failed to create rule set", err)
		return
	}
	s.cache.Invalidate()

	respondJSON(w, http.StatusCreated, &rs)
}

func (s *Server) handleGetRuleSet(w http.ResponseWriter, r *http.Request) {
	rs, err := s.store.Get(chi.URLParam(r, "ruleSetId"))
	if err != nil {
		respondError(w, http.StatusNotFound, enginerr.TypeValidation, "rule set not found", err)
		return
	}
	respondJSON(w, http.StatusOK, rs)
}

func (s *Server) handleUpdateRuleSet(w http.ResponseWriter, r *http.Request) {
	var rs rules.RuleSet
	if err := json.NewDecoder(r.Body).Decode(&rs); err != nil {
		respondError(w, http.StatusBadRequest, enginerr.TypeValidation, "invalid rule set", err)
		return
	}
	rs.ID = chi.URLParam(r, "ruleSetId")

	if err := s.store.Update(&rs); err != nil {
		respondError(w, http.StatusNotFound, enginerr.TypeValidation, "failed to update rule set", err)
		return
	}
	s.cache.Invalidate()

	respondJSON(w, http.StatusOK, &rs)
}

func (s *Server) handleDeleteRuleSet(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(chi.URLParam(r, "ruleSetId")); err != nil {
		respondError(w, http.StatusNotFound, enginerr.TypeValidation, "failed to delete rule set", err)
		return
	}
	s.cache.Invalidate()

	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, errType enginerr.Type, message string, err error) {
	resp := enginerr.New(errType, message, nil)
	if err != nil {
		resp.Details = err.Error()
	}
	respondJSON(w, status, resp)
}

func main() {
	cfg := loadConfig()

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	if server.db != nil {
		defer server.db.Close()
	}
	defer resolver.DefaultPools.Close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		logger.Error("logger shutdown error", "error", err)
	}
}
