package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

func TestRateLimitKey(t *testing.T) {
	tests := []struct {
		name         string
		keyBySubject bool
		limited      bool
	}{
		{name: "RotatedSubjectsShareIPBucket", limited: true},
		{name: "TrustedSubjectsGetOwnBuckets", keyBySubject: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := RateLimitConfig{Max: 1, Window: time.Minute, KeyBySubject: tt.keyBySubject}
			h := httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				Max:     cfg.Max,
				Window:  cfg.Window,
				KeyFunc: rateLimitKey(cfg),
			})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			send := func(subject string) int {
				req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
				req.RemoteAddr = "203.0.113.9:4000"
				req.Header.Set(handler.HeaderSubject, subject)
				w := httptest.NewRecorder()
				h.ServeHTTP(w, req)
				return w.Code
			}

			require.Equal(t, http.StatusOK, send("alice"))
			want := http.StatusOK
			if tt.limited {
				want = http.StatusTooManyRequests
			}
			assert.Equal(t, want, send("mallory-1"))
		})
	}
}
