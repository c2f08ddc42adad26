package mq

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"judgecore/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	// HeaderLastError carries the failure that caused a retry or dead letter.
	HeaderLastError = "x-last-error"
	// HeaderSourceTopic records the topic a dead-lettered message came from.
	HeaderSourceTopic = "x-source-topic"
	// HeaderPartitionKey overrides the Kafka partition key.
	HeaderPartitionKey = "x-partition-key"
)

// deliveryOutcome describes what happened to a delivered message.
type deliveryOutcome int

const (
	outcomeAcked deliveryOutcome = iota
	outcomeRetried
	outcomeDeadLettered
	outcomeExpired
)

func (o deliveryOutcome) String() string {
	switch o {
	case outcomeAcked:
		return "acked"
	case outcomeRetried:
		return "retried"
	case outcomeDeadLettered:
		return "dead_lettered"
	case outcomeExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// processor runs one delivery through limiters, the handler and the retry policy.
// Transports call it once per fetched message and acknowledge afterwards unless it
// returns an error, in which case the message must be redelivered by the transport.
// ctx cancellation interrupts waiting, never a running handler.
type processor struct {
	topic    string
	handler  HandlerFunc
	opts     SubscribeOptions
	producer Producer
}

func (p *processor) process(ctx context.Context, m *Message) (deliveryOutcome, error) {
	if m.MaxRetries == 0 {
		m.MaxRetries = p.opts.MaxRetries
	}
	if m.Expiration == 0 && p.opts.MessageTTL > 0 {
		m.Expiration = p.opts.MessageTTL
	}
	if m.Expiration > 0 && !m.Timestamp.IsZero() && time.Since(m.Timestamp) > m.Expiration {
		logger.Warn(ctx, "message expired before handling",
			zap.String("topic", p.topic),
			zap.String("message_id", m.ID),
			zap.Duration("age", time.Since(m.Timestamp)),
		)
		return outcomeExpired, nil
	}

	if !m.NotBefore.IsZero() {
		if err := waitUntil(ctx, m.NotBefore); err != nil {
			return 0, err
		}
	}

	if p.opts.Limiter != nil {
		if err := p.opts.Limiter.Acquire(ctx); err != nil {
			return 0, err
		}
		defer p.opts.Limiter.Release()
	}
	if p.opts.StartLimiter != nil {
		if err := p.opts.StartLimiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	runCtx := context.WithoutCancel(ctx)
	handleErr := p.invoke(runCtx, m)
	if handleErr == nil {
		return outcomeAcked, nil
	}
	return p.reschedule(runCtx, m, handleErr)
}

func (p *processor) invoke(ctx context.Context, m *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "message handler panicked",
				zap.String("topic", p.topic),
				zap.String("message_id", m.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler(ctx, m)
}

// reschedule publishes a delayed copy for retry, or dead-letters once retries are spent.
// A publish failure is returned so the transport leaves the original unacknowledged.
func (p *processor) reschedule(ctx context.Context, m *Message, cause error) (deliveryOutcome, error) {
	next := m.Clone()
	next.RetryCount++
	next.SetHeader(HeaderLastError, truncate(cause.Error(), 512))

	if next.RetryCount > next.MaxRetries {
		logger.Error(ctx, "message retries exhausted",
			zap.String("topic", p.topic),
			zap.String("message_id", m.ID),
			zap.Int("attempts", m.Attempt()),
			zap.Error(cause),
		)
		if p.opts.DeadLetterTopic == "" {
			return outcomeDeadLettered, nil
		}
		next.NotBefore = time.Time{}
		next.SetHeader(HeaderSourceTopic, p.topic)
		if err := p.producer.Publish(ctx, p.opts.DeadLetterTopic, next); err != nil {
			return 0, fmt.Errorf("publish dead letter: %w", err)
		}
		return outcomeDeadLettered, nil
	}

	delay := ComputeBackoff(next.RetryCount, p.opts.RetryDelay, p.opts.MaxRetryDelay)
	next.NotBefore = time.Now().Add(delay)
	logger.Warn(ctx, "message handler failed, retry scheduled",
		zap.String("topic", p.topic),
		zap.String("message_id", m.ID),
		zap.Int("attempt", m.Attempt()),
		zap.Int("max_attempts", m.MaxAttempts()),
		zap.Duration("backoff", delay),
		zap.Error(cause),
	)
	if err := p.producer.Publish(ctx, p.topic, next); err != nil {
		return 0, fmt.Errorf("publish retry: %w", err)
	}
	return outcomeRetried, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
