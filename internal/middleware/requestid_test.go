package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shopdesk/shopdesk/internal/audit"
)

// newRequestIDRouter echoes the context request id and the audit request
// details back as response headers.
func newRequestIDRouter() *gin.Engine {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) {
		id, _ := c.Get(RequestIDKey)
		c.Header("X-Context-Request-ID", id.(string))
		if m, ok := audit.RequestMetaFromContext(c.Request.Context()); ok {
			c.Header("X-Meta-Request-ID", m.RequestID)
			c.Header("X-Meta-User-Agent", m.UserAgent)
			c.Header("X-Meta-Source-IP", m.SourceIP)
		}
		c.Status(http.StatusOK)
	})
	return r
}

func TestRequestIDMiddleware_GeneratesUUIDWhenAbsent(t *testing.T) {
	r := newRequestIDRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	id := w.Header().Get(RequestIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("expected UUID request ID, got %q", id)
	}
}

func TestRequestIDMiddleware_PropagatesIncomingID(t *testing.T) {
	const upstreamID = "upstream-provided-request-id-001"
	r := newRequestIDRouter()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, upstreamID)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != upstreamID {
		t.Errorf("expected response X-Request-ID %q, got %q", upstreamID, got)
	}
	if got := w.Header().Get("X-Context-Request-ID"); got != upstreamID {
		t.Errorf("expected context request id %q, got %q", upstreamID, got)
	}
}

func TestRequestIDMiddleware_AttachesAuditRequestMeta(t *testing.T) {
	r := newRequestIDRouter()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "shopdesk-test/1.0")
	req.RemoteAddr = "203.0.113.7:51000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got, want := w.Header().Get("X-Meta-Request-ID"), w.Header().Get(RequestIDHeader); got != want {
		t.Errorf("audit request id %q, want %q", got, want)
	}
	if got := w.Header().Get("X-Meta-User-Agent"); got != "shopdesk-test/1.0" {
		t.Errorf("audit user agent %q", got)
	}
	if got := w.Header().Get("X-Meta-Source-IP"); got != "203.0.113.7" {
		t.Errorf("audit source ip %q", got)
	}
}

func TestRequestIDMiddleware_DifferentIDsPerRequest(t *testing.T) {
	r := newRequestIDRouter()

	ids := make(map[string]struct{}, 10)
	for i := range 10 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		id := w.Header().Get(RequestIDHeader)
		if _, seen := ids[id]; seen {
			t.Errorf("duplicate request ID %q on iteration %d", id, i)
		}
		ids[id] = struct{}{}
	}
}
