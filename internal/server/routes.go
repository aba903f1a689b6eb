package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Fate (one-shot and step endpoints)
	mux.HandleFunc("/api/fate/analyze", post(s.app.FateHandler.AnalyzeHandler))
	mux.HandleFunc("/api/fate/bazi", post(s.app.FateHandler.BaZiHandler))
	mux.HandleFunc("/api/fate/report", post(s.app.FateHandler.ReportHandler))
	mux.HandleFunc("/api/fate/kline", post(s.app.FateHandler.KLineHandler))
	mux.HandleFunc("/api/fate/yearly", post(s.app.FateHandler.YearlyHandler))
	mux.HandleFunc("/api/fate/export", get(s.app.FateHandler.ExportHandler))

	// API routes - System
	mux.HandleFunc("/api/version", get(s.app.SystemHandler.VersionHandler))
	mux.HandleFunc("/api/health", get(s.app.SystemHandler.HealthHandler))

	mux.HandleFunc("/", notFound)

	return mux
}
