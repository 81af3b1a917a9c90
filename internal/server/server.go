package server

import (
	"log/slog"
	"net/http"

	"sales-forecast/internal/handlers"
	"sales-forecast/internal/observability"
)

type Server struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	apiHandlers *handlers.APIHandlers
	sseHandlers *handlers.SSEHandlers
}

type TemplateHandlers struct {
	Dashboard http.HandlerFunc
}

func NewServer(deps handlers.Dependencies, logger *slog.Logger, templateHandlers *TemplateHandlers) *Server {
	s := &Server{
		mux:         http.NewServeMux(),
		logger:      logger,
		apiHandlers: handlers.NewAPIHandlers(deps, logger),
		sseHandlers: handlers.NewSSEHandlers(deps, logger),
	}
	s.setupRoutes(templateHandlers)
	return s
}

func (s *Server) setupRoutes(templateHandlers *TemplateHandlers) {
	// Dashboard and operations
	s.mux.HandleFunc("GET /{$}", templateHandlers.Dashboard)
	s.mux.HandleFunc("GET /health", s.apiHandlers.HandleHealth)
	s.mux.HandleFunc("GET /admin/stats", s.apiHandlers.HandleStats)
	s.mux.Handle("GET /metrics", observability.MetricsHandler())

	// Forecasting and ingestion
	s.mux.HandleFunc("POST /predict", s.apiHandlers.HandlePredict)
	s.mux.HandleFunc("POST /transaction", s.apiHandlers.HandleCreateTransaction)
	s.mux.HandleFunc("POST /transaction/csv", s.apiHandlers.HandleUploadCSV)

	// Listings
	s.mux.HandleFunc("GET /categories", s.apiHandlers.HandleCategories)
	s.mux.HandleFunc("GET /items", s.apiHandlers.HandleItems)
	s.mux.HandleFunc("GET /transactions", s.apiHandlers.HandleTransactions)
	s.mux.HandleFunc("GET /api/summary", s.apiHandlers.HandleSummary)

	// Datastar SSE endpoints
	s.mux.HandleFunc("GET /sse/summary", s.sseHandlers.HandleSummary)
	s.mux.HandleFunc("GET /sse/forecast", s.sseHandlers.HandleForecast)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
