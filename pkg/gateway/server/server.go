// Package server assembles the gateway: routes, middleware, and the backends
// each tool route talks to.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vocalis-ai/vocalis/pkg/gateway/config"
	"github.com/vocalis-ai/vocalis/pkg/gateway/handlers"
	"github.com/vocalis-ai/vocalis/pkg/gateway/mw"
	"github.com/vocalis-ai/vocalis/pkg/gateway/ratelimit"
	"github.com/vocalis-ai/vocalis/pkg/gateway/research"
	"github.com/vocalis-ai/vocalis/pkg/gateway/store"
	"github.com/vocalis-ai/vocalis/pkg/gateway/telemetry"
	"github.com/vocalis-ai/vocalis/pkg/gateway/tools/adapters/calendly"
	"github.com/vocalis-ai/vocalis/pkg/gateway/tools/adapters/openaiembed"
	"github.com/vocalis-ai/vocalis/pkg/gateway/tools/adapters/resend"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	httpClient *http.Client
	limiter    *ratelimit.Limiter
	store      *store.Store
	rdb        *redis.Client
	metrics    *telemetry.Metrics
}

// New wires every backend the configuration enables. Optional backends that
// are not configured leave their routes in degraded mode rather than failing
// startup; only hard errors (bad redis URL, unreachable database, genai
// client construction) are returned.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, metrics *telemetry.Metrics) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		mux:        http.NewServeMux(),
		httpClient: httpClient,
		metrics:    metrics,
	}

	var rdb redis.Cmdable
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		s.rdb = redis.NewClient(opts)
		rdb = s.rdb
	}
	s.limiter = ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow, rdb)

	if cfg.DatabaseURL != "" {
		st, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.store = st
	}

	analyzer, err := research.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, err
	}

	s.routes(analyzer)
	return s, nil
}

func (s *Server) routes(analyzer *research.Analyzer) {
	cal := calendly.NewClient(s.cfg.CalendlyAPIKey, s.cfg.CalendlyBaseURL, s.httpClient)
	mail := resend.NewClient(s.cfg.ResendAPIKey, s.cfg.ResendFrom, s.cfg.ResendBaseURL, s.httpClient)
	embedder := openaiembed.NewClient(s.cfg.EmbeddingAPIKey, s.cfg.EmbeddingBaseURL, s.cfg.EmbeddingModel, s.httpClient)

	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:        s.cfg,
		StoreReady:    s.store != nil,
		EmailReady:    mail.Configured(),
		ResearchReady: analyzer.Configured(),
	})

	s.mux.Handle("/v1/realtime/token", handlers.TokenHandler{
		Config:     s.cfg,
		HTTPClient: s.httpClient,
		Logger:     s.logger,
		Metrics:    s.metrics,
	})
	s.mux.Handle("/v1/realtime/calls", handlers.CallsHandler{
		Config:     s.cfg,
		HTTPClient: s.httpClient,
		Logger:     s.logger,
	})

	s.mux.Handle("/v1/conversations", handlers.ConversationsHandler{
		Config: s.cfg,
		Store:  s.store,
		Logger: s.logger,
	})

	tools := &handlers.Tools{
		Config:   s.cfg,
		Store:    s.store,
		Calendly: cal,
		Resend:   mail,
		Embedder: embedder,
		Research: analyzer,
		Logger:   s.logger,
		Metrics:  s.metrics,
	}
	s.mux.Handle("/v1/tools/availability", tools.Availability())
	s.mux.Handle("/v1/tools/schedule", tools.Schedule())
	s.mux.Handle("/v1/tools/send-email", tools.SendEmail())
	s.mux.Handle("/v1/tools/knowledge", tools.Knowledge())
	s.mux.Handle("/v1/tools/caller-memory", tools.CallerMemory())
	s.mux.Handle("/v1/tools/research-role", tools.ResearchRole())

	s.mux.Handle("/v1/postcall", handlers.PostCallHandler{
		Config:   s.cfg,
		Store:    s.store,
		Research: analyzer,
		Logger:   s.logger,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.countRequests(h)
	h = mw.RateLimit(s.limiter, s.logger, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Request(r.Context(), r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// Close releases the server's backend connections.
func (s *Server) Close() {
	if s.store != nil {
		s.store.Close()
	}
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
}
