package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"chargeslot/backend/services/reservation-service/internal/clients"
)

// RequestIDHeader carries the correlation id.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns every request a correlation id, reusing a sane inbound one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), clients.RequestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the correlation id of the request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clients.RequestIDKey{}).(string)
	return id
}
