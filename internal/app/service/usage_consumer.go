package service

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/nats-io/nats.go"
	"github.com/sifan077/PoolURL/internal/app/model"
	"github.com/sifan077/PoolURL/internal/app/repository"
	"github.com/sifan077/PoolURL/internal/infra/prometheus"
	"go.uber.org/zap"
)

const (
	usageFetchBatch   = 10
	usageFetchMaxWait = 5 * time.Second
	usageDedupeFPRate = 0.001
)

// deliveryOutcome is how a fetched message is settled.
type deliveryOutcome int

const (
	outcomeAck deliveryOutcome = iota
	outcomeNak
	outcomeTerm
)

// deliveryFilter remembers stream sequences already stored so redeliveries are acked without a second insert.
// False positives drop an event.
type deliveryFilter struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
}

func newDeliveryFilter(capacity uint) *deliveryFilter {
	if capacity == 0 {
		return nil
	}
	return &deliveryFilter{filter: bloom.NewWithEstimates(capacity, usageDedupeFPRate)}
}

func sequenceKey(seq uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], seq)
	return key[:]
}

func (f *deliveryFilter) seen(seq uint64) bool {
	if f == nil || seq == 0 {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter.Test(sequenceKey(seq))
}

func (f *deliveryFilter) add(seq uint64) {
	if f == nil || seq == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter.Add(sequenceKey(seq))
}

// UsageConsumer consumes usage events from NATS JetStream.
type UsageConsumer struct {
	js     nats.JetStreamContext
	repo   repository.UsageEventRepository
	seen   *deliveryFilter
	logger *zap.Logger
	done   chan struct{}
}

// NewUsageConsumer creates a consumer storing through repo. A dedupeCapacity of zero disables redelivery dedupe.
func NewUsageConsumer(js nats.JetStreamContext, repo repository.UsageEventRepository, dedupeCapacity uint, logger *zap.Logger) *UsageConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UsageConsumer{
		js:     js,
		repo:   repo,
		seen:   newDeliveryFilter(dedupeCapacity),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start ensures the stream and durable consumer exist, then consumes until ctx is cancelled.
func (c *UsageConsumer) Start(ctx context.Context) error {
	if _, err := c.js.StreamInfo(model.UsageStreamName); err != nil {
		_, err = c.js.AddStream(&nats.StreamConfig{
			Name:     model.UsageStreamName,
			Subjects: []string{model.UsageStreamSubject},
			MaxBytes: model.UsageStreamMaxBytes,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
	}

	if _, err := c.js.ConsumerInfo(model.UsageStreamName, model.UsageConsumerName); err != nil {
		_, err = c.js.AddConsumer(model.UsageStreamName, &nats.ConsumerConfig{
			Durable:   model.UsageConsumerName,
			AckPolicy: nats.AckExplicitPolicy,
		})
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := c.js.PullSubscribe(model.UsageStreamSubject, model.UsageConsumerName, nats.BindStream(model.UsageStreamName))
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go c.consume(ctx, sub)
	return nil
}

// Done is closed once the consume loop exits.
func (c *UsageConsumer) Done() <-chan struct{} {
	return c.done
}

func (c *UsageConsumer) consume(ctx context.Context, sub *nats.Subscription) {
	defer close(c.done)
	defer func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			c.logger.Warn("failed to unsubscribe usage consumer", zap.Error(err))
		}
	}()

	for {
		if ctx.Err() != nil {
			c.logger.Info("usage consumer stopped")
			return
		}

		msgs, err := sub.Fetch(usageFetchBatch, nats.MaxWait(usageFetchMaxWait))
		if err != nil && !errors.Is(err, nats.ErrTimeout) {
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				c.logger.Info("usage consumer stopped", zap.Error(err))
				return
			}
			c.logger.Error("failed to fetch messages", zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			var seq uint64
			if meta, err := msg.Metadata(); err == nil {
				seq = meta.Sequence.Stream
			}
			c.settle(msg, c.handleMessage(ctx, msg.Data, seq))
		}
	}
}

func (c *UsageConsumer) settle(msg *nats.Msg, outcome deliveryOutcome) {
	var err error
	switch outcome {
	case outcomeAck:
		err = msg.Ack()
	case outcomeNak:
		err = msg.Nak()
	case outcomeTerm:
		err = msg.Term()
	}
	if err != nil {
		c.logger.Warn("failed to settle usage message", zap.Error(err))
	}
}

// handleMessage stores one queued event and reports how the message should be settled.
func (c *UsageConsumer) handleMessage(ctx context.Context, data []byte, seq uint64) deliveryOutcome {
	if c.seen.seen(seq) {
		c.logger.Debug("usage event redelivered, skipping", zap.Uint64("stream_seq", seq))
		return outcomeAck
	}

	var msg model.UsageMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		prometheus.UsageEventsTotal.WithLabelValues(prometheus.UsageDropped).Inc()
		c.logger.Error("failed to unmarshal usage event", zap.Error(err))
		return outcomeTerm
	}

	observedAt, err := model.ParseObservedAt(msg.ObservedAt)
	if err != nil {
		prometheus.UsageEventsTotal.WithLabelValues(prometheus.UsageDropped).Inc()
		c.logger.Warn("usage event dropped",
			zap.Uint64("binding_id", msg.BindingID),
			zap.Error(err),
		)
		return outcomeTerm
	}

	event := &model.UsageEvent{BindingID: msg.BindingID, ObservedAt: observedAt}
	if err := c.repo.Create(ctx, event); err != nil {
		if errors.Is(err, model.ErrMalformedTimestamp) || errors.Is(err, repository.ErrBindingNotFound) {
			prometheus.UsageEventsTotal.WithLabelValues(prometheus.UsageDropped).Inc()
			c.logger.Warn("usage event dropped",
				zap.Uint64("binding_id", msg.BindingID),
				zap.Error(err),
			)
			return outcomeTerm
		}
		prometheus.UsageEventsTotal.WithLabelValues(prometheus.UsageFailed).Inc()
		c.logger.Error("failed to store usage event",
			zap.Uint64("binding_id", msg.BindingID),
			zap.Error(err),
		)
		return outcomeNak
	}

	c.seen.add(seq)
	prometheus.UsageEventsTotal.WithLabelValues(prometheus.UsageRecorded).Inc()
	c.logger.Debug("usage event stored",
		zap.Uint64("binding_id", msg.BindingID),
		zap.Time("observed_at", observedAt),
	)
	return outcomeAck
}
