// Package kafka reads raw events from a Kafka topic as part of a consumer group.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

type Config struct {
	Brokers []string
	Topic   string
	Group   string
	// FromStart consumes from the earliest offset when the group has none.
	FromStart bool
}

// ErrClosed is returned by Pop after Close.
var ErrClosed = errors.New("kafka consumer closed")

// Consumer hands out records one at a time from polled batches. Pop may be
// called from several goroutines.
type Consumer struct {
	client *kgo.Client

	mu      sync.Mutex
	pending [][]byte
}

func options(cfg Config) ([]kgo.Opt, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if cfg.Group == "" {
		return nil, fmt.Errorf("kafka consumer group is required")
	}
	reset := kgo.NewOffset().AtEnd()
	if cfg.FromStart {
		reset = kgo.NewOffset().AtStart()
	}
	return []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(reset),
		kgo.FetchMaxBytes(10 * 1024 * 1024),
		kgo.FetchMaxWait(500 * time.Millisecond),
	}, nil
}

func NewConsumer(cfg Config) (*Consumer, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &Consumer{client: client}, nil
}

// Pop returns the next record value, polling the brokers when the local
// buffer is empty. A nil payload with a nil error means nothing arrived.
func (c *Consumer) Pop(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		fetches := c.client.PollRecords(ctx, 500)
		if fetches.IsClientClosed() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := fetches.Err(); err != nil {
			return nil, fmt.Errorf("kafka fetch: %w", err)
		}
		fetches.EachRecord(func(r *kgo.Record) {
			c.pending = append(c.pending, r.Value)
		})
	}
	if len(c.pending) == 0 {
		return nil, nil
	}
	v := c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	return v, nil
}

func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}
