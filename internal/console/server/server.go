package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/healops-policy-engine/internal/console/handler"
	"github.com/xela07ax/healops-policy-engine/internal/infra"
	"github.com/xela07ax/healops-policy-engine/internal/infra/auth"
)

type Server struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Проверка RS256 токенов. nil — открытый периметр (dev-режим),
	// продовый конфиг обязан задавать публичный ключ.
	authValidator auth.TokenValidator

	limiter  *rate.Limiter
	registry *prometheus.Registry

	evaluateHandler *handler.EvaluateHandler // /v1/evaluate
	policyHandler   *handler.PolicyHandler   // /v1/policies
	auditHandler    *handler.AuditHandler    // /v1/audit
}

// New собирает HTTP-периметр движка со всеми зависимостями
func New(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	registry *prometheus.Registry,
	evaluateH *handler.EvaluateHandler,
	policyH *handler.PolicyHandler,
	auditH *handler.AuditHandler,
) *Server {
	s := &Server{
		router:          chi.NewRouter(),
		logger:          logger.Named("policy-api"),
		cfg:             cfg,
		authValidator:   validator,
		limiter:         rate.NewLimiter(rate.Limit(cfg.Engine.RateLimitRPS), cfg.Engine.RateLimitBurst),
		registry:        registry,
		evaluateHandler: evaluateH,
		policyHandler:   policyH,
		auditHandler:    auditH,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(infra.RateLimitMiddleware(s.limiter))

	// --- Публичные роуты ---
	r.Group(func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	})

	// --- Защищенный периметр ---
	r.Group(func(r chi.Router) {
		if s.authValidator != nil {
			r.Use(auth.NewMiddleware(s.authValidator, s.logger))
		} else {
			s.logger.Warn("auth public key not configured, API is running unprotected")
		}

		// Движок оценки: единственная операция, которой пользуется
		// исполнитель действий
		r.Post("/v1/evaluate", s.evaluateHandler.Evaluate)

		// Управление политиками (CRUD поверх authoritative store)
		r.Route("/v1/policies", func(r chi.Router) {
			r.Get("/", s.policyHandler.List)
			r.Post("/", s.policyHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.policyHandler.Get)
				r.Put("/", s.policyHandler.Update)
				r.Delete("/", s.policyHandler.Delete)
			})
		})

		// Журнал оценок (только чтение)
		r.Get("/v1/audit", s.auditHandler.GetLogs)
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
