//go:build integration

package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/shopdesk/shopdesk/internal/audit"
	"github.com/shopdesk/shopdesk/internal/db/models"
	"github.com/shopdesk/shopdesk/internal/testutil/containers"
)

func TestIntegration_KafkaShipperProduces(t *testing.T) {
	broker := containers.NewKafkaBroker(t)

	ks, err := audit.NewKafkaShipper(&audit.KafkaConfig{Brokers: []string{broker}, Topic: "shopdesk.audit"})
	require.NoError(t, err)
	defer ks.Close()

	e := sampleEvent(models.EventGrantApproved)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, ks.Ship(ctx, []*models.AuditEvent{e}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics("shopdesk.audit"),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.Empty(t, fetches.Errors())
	records := fetches.Records()
	require.NotEmpty(t, records)
	assert.Equal(t, e.SubjectTenantID, string(records[0].Key))
}
