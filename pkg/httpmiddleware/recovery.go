package httpmiddleware

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Recovery turns a panic into a logged 500 with the API's JSON error body.
// http.ErrAbortHandler is re-panicked so net/http can drop the connection.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				zctx.From(r.Context()).Error("Panic recovered",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("request_id", RequestIDFromContext(r.Context())),
					zap.Stack("stack"),
				)
				writeInternalError(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func writeInternalError(w http.ResponseWriter) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(http.StatusInternalServerError)
	e.FieldStart("message")
	e.Str("internal server error")
	e.ObjEnd()

	w.Header().Set("Connection", "close")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write(e.Bytes())
}
