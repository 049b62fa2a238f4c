//go:build integration

package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/redpanda"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestKafkaNotifier_Redpanda(t *testing.T) {
	ctx := context.Background()

	container, err := redpanda.Run(ctx, "docker.redpanda.com/redpandadata/redpanda:v24.2.4",
		redpanda.WithAutoCreateTopics(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	broker, err := container.KafkaSeedBroker(ctx)
	require.NoError(t, err)

	cfg := KafkaConfig{Brokers: []string{broker}, Topic: "certificates.issued", ClientID: "agricert-test"}
	client, err := NewKafkaClient(cfg)
	require.NoError(t, err)
	defer client.Close()

	n := NewKafkaNotifier(client, cfg, testLogger())
	require.NoError(t, n.CertificateIssued(ctx, sampleEvent()))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	pollCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	fetches := consumer.PollFetches(pollCtx)
	require.Empty(t, fetches.Errors())
	records := fetches.Records()
	require.Len(t, records, 1)

	var got CertificateIssuedEvent
	require.NoError(t, json.Unmarshal(records[0].Value, &got))
	assert.Equal(t, "C1", got.CertificateID)
	assert.Equal(t, "B1", string(records[0].Key))
}
