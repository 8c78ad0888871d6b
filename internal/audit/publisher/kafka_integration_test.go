//go:build integration

package publisher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"kycvault/internal/audit"
	"kycvault/pkg/testutil/containers"
)

func TestKafkaPublishAgainstBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	broker := containers.NewKafka(t)
	const topic = "kyc.audit.it"
	require.NoError(t, EnsureTopicOnBrokers(ctx, []string{broker}, topic))
	require.NoError(t, EnsureTopicOnBrokers(ctx, []string{broker}, topic), "second call is a no-op")

	pub, err := NewKafka([]string{broker}, topic)
	require.NoError(t, err)
	defer pub.Close()

	entry := &audit.Entry{
		ID:          "e-1",
		RecordID:    "rec-1",
		Action:      audit.ActionCreated,
		PerformedBy: "user-1",
		PerformedAt: time.Now().UTC(),
		ProofRef:    "0xabc",
	}
	require.NoError(t, pub.Publish(ctx, entry))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.Empty(t, fetches.Errors())
	records := fetches.Records()
	require.NotEmpty(t, records)

	var msg Message
	require.NoError(t, json.Unmarshal(records[0].Value, &msg))
	assert.Equal(t, "rec-1", string(records[0].Key))
	assert.Equal(t, "CREATED", msg.Action)
	assert.Equal(t, "0xabc", msg.ProofRef)
}
