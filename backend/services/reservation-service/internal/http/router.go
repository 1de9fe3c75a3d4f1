package httpserver

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"chargeslot/backend/libs/metrics"
	"chargeslot/backend/services/reservation-service/internal/http/handlers"
	"chargeslot/backend/services/reservation-service/internal/http/middleware"
)

// RateLimitRule is a fixed window budget for one route group.
type RateLimitRule struct {
	Limit  int
	Window time.Duration
}

// Options configure cross-cutting middleware.
type Options struct {
	JWTSecret     string
	InternalToken string
	Limiter       middleware.Limiter
	SearchLimit   RateLimitRule
	BookingLimit  RateLimitRule
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// Routes groups handlers.
type Routes struct {
	Health           http.HandlerFunc
	Metrics          http.Handler
	WebSocket        http.HandlerFunc
	Search           http.Handler
	Reservations     *handlers.ReservationsHandler
	Stations         *handlers.StationsHandler
	SessionCompleted http.Handler
}

// NewRouter registers endpoints.
func NewRouter(routes Routes, opts Options) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.Recovery(opts.Logger), middleware.Logging(opts.Logger), middleware.Metrics(opts.Metrics))
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}` + "\n"))
	})

	if routes.Health != nil {
		r.HandleFunc("/health", routes.Health).Methods(http.MethodGet)
	}
	if routes.Metrics != nil {
		r.Handle("/metrics", routes.Metrics).Methods(http.MethodGet)
	}
	if routes.WebSocket != nil {
		r.HandleFunc("/ws", routes.WebSocket).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()

	if routes.Search != nil {
		search := api.PathPrefix("/slots").Subrouter()
		search.Use(middleware.RateLimit(opts.Limiter, "search", opts.SearchLimit.Limit, opts.SearchLimit.Window, opts.Logger))
		search.Handle("/search", routes.Search).Methods(http.MethodGet)
	}
	if routes.Stations != nil {
		api.HandleFunc("/stations/{stationId}", routes.Stations.HandleGet).Methods(http.MethodGet)
	}

	if res := routes.Reservations; res != nil {
		protected := api.PathPrefix("/reservations").Subrouter()
		protected.Use(middleware.AuthMiddleware(opts.JWTSecret))
		protected.Use(mutationsOnly(middleware.RateLimit(opts.Limiter, "booking", opts.BookingLimit.Limit, opts.BookingLimit.Window, opts.Logger)))

		protected.HandleFunc("", res.HandleCreate).Methods(http.MethodPost)
		protected.HandleFunc("", res.HandleList).Methods(http.MethodGet)
		protected.HandleFunc("/{id}", res.HandleGet).Methods(http.MethodGet)
		protected.HandleFunc("/{id}", res.HandleModify).Methods(http.MethodPatch)
		protected.HandleFunc("/{id}/cancel", res.HandleCancel).Methods(http.MethodPost)
		protected.HandleFunc("/{id}/check-in", res.HandleCheckIn).Methods(http.MethodPost)
		protected.HandleFunc("/{id}/grace-extension", res.HandleExtendGrace).Methods(http.MethodPost)
		protected.HandleFunc("/{id}/start", res.HandleStart).Methods(http.MethodPost)
	}

	internal := r.PathPrefix("/internal").Subrouter()
	internal.Use(middleware.InternalToken(opts.InternalToken))
	if st := routes.Stations; st != nil {
		internal.HandleFunc("/stations/{stationId}", st.HandleUpsert).Methods(http.MethodPut)
		internal.HandleFunc("/stations/{stationId}/maintenance", st.HandleMaintenance).Methods(http.MethodPost)
		internal.HandleFunc("/connectors/{connectorId}/status", st.HandleConnectorStatus).Methods(http.MethodPost)
		internal.HandleFunc("/connectors/{connectorId}/pricing", st.HandlePricing).Methods(http.MethodPut)
	}
	if routes.SessionCompleted != nil {
		internal.Handle("/sessions/completed", routes.SessionCompleted).Methods(http.MethodPost)
	}
	return r
}

// mutationsOnly applies mw to every method except GET and HEAD.
func mutationsOnly(mw func(http.Handler) http.Handler) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		limited := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}
