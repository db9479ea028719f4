package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// applySecurityHeaders runs a GET / through SecurityHeadersMiddleware and returns
// the response recorder so callers can inspect headers.
func applySecurityHeaders(cfg SecurityHeadersConfig) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(SecurityHeadersMiddleware(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func TestSecurityHeadersMiddleware_Defaults(t *testing.T) {
	w := applySecurityHeaders(DefaultSecurityHeadersConfig(true))

	tests := []struct{ header, want string }{
		{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
		{"X-Frame-Options", "DENY"},
		{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
		{"Referrer-Policy", "no-referrer"},
		{"X-Content-Type-Options", "nosniff"},
		{"Cache-Control", "no-store"},
		{"Cross-Origin-Resource-Policy", "same-origin"},
	}
	for _, tt := range tests {
		if got := w.Header().Get(tt.header); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestSecurityHeadersMiddleware_NoHSTSWithoutTLS(t *testing.T) {
	w := applySecurityHeaders(DefaultSecurityHeadersConfig(false))
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("Strict-Transport-Security = %q, want absent without TLS", got)
	}
}

func TestSecurityHeadersMiddleware_HSTSWithoutSubdomains(t *testing.T) {
	w := applySecurityHeaders(SecurityHeadersConfig{EnableHSTS: true, HSTSMaxAge: 600})
	if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=600" {
		t.Errorf("Strict-Transport-Security = %q, want max-age=600", got)
	}
}

func TestSecurityHeadersMiddleware_EmptyValuesOmitted(t *testing.T) {
	w := applySecurityHeaders(SecurityHeadersConfig{})
	for _, h := range []string{"X-Frame-Options", "Content-Security-Policy", "Referrer-Policy"} {
		if got := w.Header().Get(h); got != "" {
			t.Errorf("%s should be absent when empty, got %q", h, got)
		}
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}
