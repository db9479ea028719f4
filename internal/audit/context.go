package audit

import (
	"context"

	"github.com/shopdesk/shopdesk/internal/db/models"
)

type requestMetaKey struct{}

// WithRequestMeta attaches transport details to ctx so events recorded
// further down the call chain carry them.
func WithRequestMeta(ctx context.Context, m models.RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, m)
}

// RequestMetaFromContext returns the details stored by WithRequestMeta.
func RequestMetaFromContext(ctx context.Context) (models.RequestMeta, bool) {
	m, ok := ctx.Value(requestMetaKey{}).(models.RequestMeta)
	return m, ok
}
