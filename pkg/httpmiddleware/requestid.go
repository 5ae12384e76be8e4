package httpmiddleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

const maxRequestIDLen = 128

type requestIDKey struct{}

// RequestIDFromContext returns the request id, or "" when none was set.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// RequestID tags every request with an id. A valid incoming X-Request-ID
// wins. Otherwise the trace id is used when the request is traced, so access
// logs and traces join on one key, and a UUID v4 when it is not. The id is
// echoed in the response and stored in the context.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			span := trace.SpanFromContext(ctx)

			id := r.Header.Get(HeaderRequestID)
			switch {
			case isValidRequestID(id):
				if span.IsRecording() {
					span.SetAttributes(attribute.String("http.request_id", id))
				}
			case span.SpanContext().HasTraceID():
				id = span.SpanContext().TraceID().String()
			default:
				id = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, id)

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, requestIDKey{}, id)))
		})
	}
}

// isValidRequestID accepts up to 128 bytes of printable ASCII.
func isValidRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := range len(id) {
		if id[i] < 0x20 || id[i] > 0x7E {
			return false
		}
	}
	return true
}
