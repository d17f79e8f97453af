// Package kafka wraps franz-go client construction and topic management so
// the rest of the codebase never touches broker configuration directly.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// TopicAuditEvents carries the audit trail. Kafka is the source of truth for
// audit events; PostgreSQL tables are materializations.
const TopicAuditEvents = "buildgate.audit.events"

// NewClient constructs a producer-capable Kafka client.
func NewClient(brokers []string, opts ...kgo.Opt) (*kgo.Client, error) {
	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProduceRequestTimeout(10 * time.Second),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// NewConsumerClient constructs a client that consumes the given topics as
// part of a consumer group.
func NewConsumerClient(brokers []string, group string, topics ...string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer client: %w", err)
	}
	return client, nil
}

// EnsureTopic creates the topic if it does not exist yet. Existing topics
// are left untouched.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32) error {
	admin := kadm.NewClient(client)

	existing, err := admin.ListTopics(ctx, topic)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	if t, ok := existing[topic]; ok && t.Err == nil {
		return nil
	}

	replication := int16(1)
	if _, err := admin.CreateTopic(ctx, partitions, replication, nil, topic); err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	return nil
}
