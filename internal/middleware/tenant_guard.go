package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/shopdesk/shopdesk/internal/access"
	"github.com/shopdesk/shopdesk/internal/audit"
	"github.com/shopdesk/shopdesk/internal/db/models"
	"github.com/shopdesk/shopdesk/internal/telemetry"
)

// SanitizedBodyKey is the gin.Context key holding the rewritten request body map.
const SanitizedBodyKey = "sanitized_body"

// maxGuardedBodyBytes bounds the body the guard will buffer.
const maxGuardedBodyBytes = 1 << 20

// TenantGuardMiddleware replaces the tenant id in mutating request bodies with
// the one derived from the session. The handler only ever sees the sanitized
// body. A client-supplied tenant id that differed is recorded as a
// tenant_id_sanitized audit event; the request itself continues.
//
// Every non-empty body on a guarded route is treated as JSON whatever its
// Content-Type says, since gin's JSON binding ignores the header. A body that
// declares another media type is rejected with 415.
//
// Routes on the guard's allow-list are passed through untouched and must do
// their own tenant authorization.
func TenantGuardMiddleware(guard *access.Guard, recorder *audit.Recorder, db sqlx.ExtContext) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isMutating(c.Request.Method) || guard.Bypassed(c.Request.Method, c.FullPath()) {
			c.Next()
			return
		}
		if c.Request.Body == nil {
			c.Next()
			return
		}

		raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxGuardedBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}
		if len(bytes.TrimSpace(raw)) == 0 {
			c.Request.Body = io.NopCloser(bytes.NewReader(raw))
			c.Next()
			return
		}
		if ct := c.ContentType(); ct != "" && !isJSONContent(ct) {
			c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{"error": "request body must be JSON"})
			return
		}

		body, err := decodeObject(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object"})
			return
		}

		p, ok := GetPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if p.Role != access.RoleSuperOperator && p.HomeTenantID == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "session has no home tenant"})
			return
		}

		route := c.Request.Method + " " + c.FullPath()
		sanitized, s := guard.Sanitize(p, body, route)

		if s != nil {
			telemetry.TenantSanitizationsTotal.Inc()
			event := sanitizationEvent(p, s)
			if err := recorder.Record(c.Request.Context(), db, event); err != nil {
				slog.Error("failed to record tenant id sanitization",
					"actor_id", p.ID, "route", route, "error", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
				return
			}
			recorder.Publish(event)
			slog.Warn("client-supplied tenant id overridden",
				"actor_id", p.ID, "role", p.Role, "attempted", s.Attempted, "used", s.Used, "route", route)
		}

		rewritten, err := json.Marshal(sanitized)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(rewritten))
		c.Request.ContentLength = int64(len(rewritten))
		c.Request.Header.Set("Content-Type", "application/json")
		c.Set(SanitizedBodyKey, sanitized)

		c.Next()
	}
}

func sanitizationEvent(p access.Principal, s *access.Sanitization) *models.AuditEvent {
	subject := s.Used
	if id, ok := access.CanonicalTenantID(s.Used); ok {
		subject = id
	}
	return &models.AuditEvent{
		ActorID:         p.ID,
		ActorRole:       string(p.Role),
		EventType:       models.EventTenantIDSanitized,
		SubjectTenantID: subject,
		Details: map[string]interface{}{
			"attempted": s.Attempted,
			"used":      s.Used,
			"route":     s.Route,
			"field":     s.Field,
		},
	}
}

// decodeObject parses raw as a single JSON object, keeping numbers exact.
func decodeObject(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]interface{}
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, errors.New("body is not a JSON object")
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON object")
	}
	return body, nil
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func isJSONContent(contentType string) bool {
	return contentType == "application/json" || strings.HasSuffix(contentType, "+json")
}
