package httpapi

import (
	"net/http"

	"log/slog"

	"chatrelay/internal/app"
	"chatrelay/internal/relay"
	"chatrelay/internal/store"
	"chatrelay/pkg/devicetoken"
	"chatrelay/pkg/metrics"
)

// NewRouter wires up all HTTP routes, middleware, and handlers
func NewRouter(cfg app.Config, logger *slog.Logger, gw *relay.Gateway, coord *relay.Coordinator, db *store.Postgres) http.Handler {
	mw := NewMiddleware(cfg)
	api := &API{DB: db, Coord: coord, Tokens: devicetoken.New(cfg.TokenSecret), Log: logger}

	mux := http.NewServeMux()

	// Health / readiness / metrics
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) }))
	mux.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	}))
	mux.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint
	mux.Handle("/ws", http.HandlerFunc(gw.ServeWS))

	// User registration
	mux.Handle("/api/users", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			api.RegisterUser(w, r)
			return
		}
		http.NotFound(w, r)
	}))

	// Room CRUD
	mux.Handle("/api/rooms", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			api.CreateRoom(w, r)
			return
		}
		if r.Method == http.MethodGet {
			api.ListRooms(w, r)
			return
		}
		http.NotFound(w, r)
	}))
	mux.Handle("/api/rooms/{pin}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			api.DeleteRoom(w, r)
			return
		}
		http.NotFound(w, r)
	}))

	// CORS + rate limit applied globally
	return mw.Wrap(mux)
}
