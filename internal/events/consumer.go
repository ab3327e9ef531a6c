// Package events consumes course-completion events from Kafka and feeds them
// to the review service. The broker is an alternative ingress to the HTTP
// completion endpoint; both paths converge on the same handler.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// CompletionEvent is the wire form of one course completion.
type CompletionEvent struct {
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id"`
}

// Reviewer is the piece of the review service the consumer needs.
type Reviewer interface {
	HandleCompletion(ctx context.Context, userID, courseID string) error
}

// Consumer reads completion events from one topic within a consumer group.
type Consumer struct {
	client   *kgo.Client
	topic    string
	reviewer Reviewer
	log      *slog.Logger
}

// NewConsumer connects to the brokers, ensures the topic exists, and joins
// the consumer group.
func NewConsumer(ctx context.Context, brokers []string, topic, group string, reviewer Reviewer, log *slog.Logger) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	if err := ensureTopic(ctx, client, topic); err != nil {
		client.Close()
		return nil, err
	}

	return &Consumer{client: client, topic: topic, reviewer: reviewer, log: log}, nil
}

func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopics(ctx, 3, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, res := range resp {
		if res.Err != nil && !errors.Is(res.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", topic, res.Err)
		}
	}
	return nil
}

// Run polls until the context is cancelled. Offsets commit only after the
// whole fetch is handled, so a crash replays events rather than losing them;
// replay is safe because review tolerates duplicates.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.client.Close()

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.log.Error("fetch error", "topic", topic, "partition", partition, "error", err)
		})

		fetches.EachRecord(func(record *kgo.Record) {
			if err := c.handle(ctx, record.Value); err != nil {
				c.log.Error("completion event failed", "error", err)
			}
		})

		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			c.log.Error("offset commit failed", "error", err)
		}
	}
}

// handle decodes and reviews one event. Malformed payloads are dropped with
// an error; redelivery would not fix them.
func (c *Consumer) handle(ctx context.Context, payload []byte) error {
	var event CompletionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("decode completion event: %w", err)
	}
	if event.UserID == "" || event.CourseID == "" {
		return fmt.Errorf("completion event missing user or course: %s", payload)
	}

	c.log.Debug("completion event received", "user_id", event.UserID, "course_id", event.CourseID)
	return c.reviewer.HandleCompletion(ctx, event.UserID, event.CourseID)
}
