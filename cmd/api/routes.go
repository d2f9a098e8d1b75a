package main

import (
	"net/http"

	"bankfeed/internal/shared/config"
	"bankfeed/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", deps.HealthHandler.HandleHealth)

	authMiddleware := middleware.Auth(deps.JWT)

	mux.Handle("/api/sync", authMiddleware(http.HandlerFunc(deps.SyncHandler.HandleSync)))
	mux.Handle("/api/sync/reload", authMiddleware(http.HandlerFunc(deps.SyncHandler.HandleReload)))
	mux.Handle("/api/link/exchange", authMiddleware(http.HandlerFunc(deps.LinkHandler.HandleExchange)))
	mux.Handle("/api/connections/disconnect", authMiddleware(http.HandlerFunc(deps.ConnectionHandler.HandleDisconnect)))
	mux.Handle("/api/connections/{id}/status", authMiddleware(http.HandlerFunc(deps.ConnectionHandler.HandleStatus)))
	mux.Handle("/api/connections/{id}/accounts", authMiddleware(http.HandlerFunc(deps.ConnectionHandler.HandleAccounts)))
	mux.Handle("/api/connections/{id}/transactions", authMiddleware(http.HandlerFunc(deps.ConnectionHandler.HandleTransactions)))

	var handler http.Handler = mux
	handler = middleware.Tracing(handler)
	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(handler)
	}
	handler = middleware.Logging(handler)
	handler = middleware.CORS(nil)(handler)

	return handler
}
