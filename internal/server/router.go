package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/neuralripper/neuralripper/internal/dashboard"
	"github.com/neuralripper/neuralripper/internal/gateway"
)

// NewRouter assembles the HTTP surface: dashboard queries under /api, the
// streaming gateway at /ws/eval, and a health check.
func NewRouter(sc *ServerContext) *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	dashboard.NewHandler(sc.Tracker).Register(r.PathPrefix("/api").Subrouter())
	r.Handle("/ws/eval", gateway.NewHandler(sc.Broker))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"index":"neuralripper"}`))
	}).Methods(http.MethodGet)

	return r
}

// corsMiddleware lets the dashboard frontend (served from another origin)
// call the API directly from the browser.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
