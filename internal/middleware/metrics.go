package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shopdesk/shopdesk/internal/telemetry"
)

// noRouteLabel is the path label for requests that matched no route.
const noRouteLabel = "<no-route>"

// MetricsMiddleware records shopdesk_http_requests_total,
// shopdesk_http_request_duration_seconds and shopdesk_http_requests_in_flight.
//
// The path label is the matched route template from c.FullPath()
// (/api/v1/permission-requests/:id/approve), never the raw URL, so grant and
// tenant ids cannot leak into label values. Unmatched requests are labelled
// "<no-route>".
//
// Register it after RequestIDMiddleware and before auth so that 401, 403 and
// 429 responses are counted too.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		telemetry.HTTPRequestsInFlight.Inc()
		defer telemetry.HTTPRequestsInFlight.Dec()

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = noRouteLabel
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
	}
}
