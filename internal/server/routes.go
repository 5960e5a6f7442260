package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Monitoring
	mux.HandleFunc("/api/monitor", s.app.MonitorHandler.TargetsHandler) // GET (list), POST (register)
	mux.HandleFunc("/api/monitor/", s.app.MonitorHandler.TargetRoutes)  // DELETE /{id}

	// API routes - Worker pool
	mux.HandleFunc("/api/pool/stats", s.app.APIHandler.PoolStatsHandler)

	// API routes - Detections
	mux.HandleFunc("/api/detections/classify", s.app.DetectionHandler.ClassifyHandler)
	mux.HandleFunc("/api/detections/recent", s.app.DetectionHandler.RecentHandler)
	mux.HandleFunc("/api/detections/suggest", s.app.DetectionHandler.SuggestHandler)

	// API routes - Solutions
	mux.HandleFunc("/api/solutions", s.app.SolutionHandler.ListHandler)
	mux.HandleFunc("/api/solutions/", s.app.SolutionHandler.SolutionRoutes) // POST /{id}/apply, GET /{id}/effectiveness

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)

	// Catch-all for unknown API paths
	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}
