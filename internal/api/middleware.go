package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/fleetctl/orchestrator/internal/apierr"
	"github.com/fleetctl/orchestrator/internal/telemetry"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/trace"
)

type ctxKey int

const requestIDKey ctxKey = iota

// requestIDMiddleware stamps every request with an X-Request-ID,
// honoring one supplied by the caller so a client-generated id
// survives the round trip.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// tracingMiddleware opens a server span per request, tagged with the
// route pattern and request id.
func (s *Server) tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if route2, err := mux.CurrentRoute(r).GetPathTemplate(); err == nil && route2 != "" {
			route = route2
		}
		ctx, span := telemetry.Tracer().Start(r.Context(), route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				telemetry.AttrRoute.String(route),
				telemetry.AttrRequestID.String(requestIDFrom(r.Context())),
			),
		)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimitMiddleware enforces a token-window counter keyed by client
// address, using the same state-store primitive the webhook
// dispatcher paces outbound deliveries with.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.state == nil {
			next.ServeHTTP(w, r)
			return
		}
		id := clientIdentifier(r)
		allowed, remaining := s.state.CheckRateLimit(id, s.cfg.RateLimitRequests, s.cfg.RateLimitWindow)
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			writeError(w, r, apierr.New(apierr.CodeCapacityExceeded, "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIdentifier(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ratelimit:" + r.RemoteAddr
	}
	return "ratelimit:" + host
}
