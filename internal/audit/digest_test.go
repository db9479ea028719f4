package audit

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopdesk/shopdesk/internal/db/models"
)

func digestFixture() *models.AuditEvent {
	grant := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	return &models.AuditEvent{
		ID:              uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"),
		OccurredAt:      time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC),
		ActorID:         "22222222-2222-2222-2222-222222222222",
		ActorRole:       "owner",
		EventType:       models.EventGrantApproved,
		SubjectTenantID: "33333333-3333-3333-3333-333333333333",
		RelatedGrantID:  &grant,
		Details:         map[string]interface{}{"comment": "ok for 30 days", "admin_id": "x"},
		SourceIP:        "10.0.0.1",
		UserAgent:       "curl/8",
		RequestID:       "req-1",
	}
}

func TestDigester_StableAndVerifiable(t *testing.T) {
	d, err := NewDigester(nil)
	require.NoError(t, err)

	e := digestFixture()
	sum1, err := d.Sum(e)
	require.NoError(t, err)
	sum2, err := d.Sum(digestFixture())
	require.NoError(t, err)

	assert.Equal(t, sum1, sum2)
	assert.Len(t, sum1, 64)

	e.Digest = sum1
	assert.True(t, d.Verify(e))
}

func TestDigester_DetectsTampering(t *testing.T) {
	d, _ := NewDigester(nil)
	e := digestFixture()
	e.Digest, _ = d.Sum(e)

	e.Details["comment"] = "ok forever"
	assert.False(t, d.Verify(e))
}

func TestDigester_TimezoneDoesNotMatter(t *testing.T) {
	d, _ := NewDigester(nil)
	e := digestFixture()
	utc, _ := d.Sum(e)

	e.OccurredAt = e.OccurredAt.In(time.FixedZone("EST", -5*3600))
	local, _ := d.Sum(e)
	assert.Equal(t, utc, local)
}

func TestDigester_KeyChangesDigest(t *testing.T) {
	plain, _ := NewDigester(nil)
	keyed, err := NewDigester([]byte("audit-secret"))
	require.NoError(t, err)

	e := digestFixture()
	a, _ := plain.Sum(e)
	b, _ := keyed.Sum(e)
	assert.NotEqual(t, a, b)

	e.Digest = a
	assert.False(t, keyed.Verify(e), "unkeyed digest must not verify under a key")
}

func TestNewDigester_KeyTooLong(t *testing.T) {
	_, err := NewDigester([]byte(strings.Repeat("k", 65)))
	assert.Error(t, err)
}
