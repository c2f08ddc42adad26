package mq

import (
	"context"
	"time"
)

// MessageQueue defines the unified interface for message queue operations.
// Kafka backs production deployments, MemoryQueue backs single-node runs and tests.
type MessageQueue interface {
	Producer
	Consumer

	// Ping verifies the message queue connection is alive
	Ping(ctx context.Context) error

	// Close closes the message queue connection
	Close() error
}

// Producer defines the interface for publishing messages
type Producer interface {
	// Publish publishes a message to the specified topic
	Publish(ctx context.Context, topic string, message *Message) error

	// PublishBatch publishes multiple messages in a batch
	PublishBatch(ctx context.Context, topic string, messages []*Message) error
}

// Consumer defines the interface for consuming messages
type Consumer interface {
	// Subscribe subscribes to a topic and processes messages with the given handler.
	// The handler returns nil on success; any error schedules a retry.
	Subscribe(ctx context.Context, topic string, handler HandlerFunc) error

	// SubscribeWithOptions subscribes with custom options
	SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error

	// Start starts consuming messages
	Start() error

	// Stop gracefully stops consuming messages. In-flight handlers run to completion.
	Stop() error

	// Pause temporarily pauses message consumption
	Pause() error

	// Resume resumes message consumption after pause
	Resume() error
}

// Message represents a message in the queue
type Message struct {
	// ID is the unique identifier for the message
	ID string `json:"id"`

	// Body is the message payload
	Body []byte `json:"body"`

	// Headers contains metadata about the message
	Headers map[string]string `json:"headers"`

	// Timestamp is when the message was first created; retries keep it.
	Timestamp time.Time `json:"timestamp"`

	// NotBefore is the earliest delivery time. Zero means immediately.
	NotBefore time.Time `json:"not_before"`

	// Retry information
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	// Expiration time for the message
	Expiration time.Duration `json:"expiration"`
}

// HandlerFunc is the function signature for message handlers
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions defines options for subscribing to a topic
type SubscribeOptions struct {
	// ConsumerGroup is the consumer group name (for Kafka)
	ConsumerGroup string

	// Concurrency sets the number of consumer loops for this subscription.
	// Each loop handles one message fully before fetching the next.
	// Default: 1
	Concurrency int

	// MaxRetries sets the maximum number of retries for failed messages.
	// A message is attempted at most MaxRetries+1 times.
	// Default: 3
	MaxRetries int

	// RetryDelay is the backoff before the first retry; it doubles per retry.
	// Default: 1 second
	RetryDelay time.Duration

	// MaxRetryDelay caps the exponential backoff.
	// Default: 30 seconds
	MaxRetryDelay time.Duration

	// DeadLetterTopic is where messages go after max retries
	DeadLetterTopic string

	// MessageTTL drops messages older than this without handling them
	MessageTTL time.Duration

	// Limiter bounds in-flight handlers; it may be shared across subscriptions.
	Limiter FetchLimiter

	// StartLimiter bounds how quickly handlers may start.
	StartLimiter StartLimiter
}

// SetDefaults sets default values for subscribe options
func (o *SubscribeOptions) SetDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = 30 * time.Second
	}
	if o.MaxRetryDelay < o.RetryDelay {
		o.MaxRetryDelay = o.RetryDelay
	}
}

// NewMessage creates a new message with the given body
func NewMessage(body []byte) *Message {
	return &Message{
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// SetHeader sets a header value
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader retrieves a header value
func (m *Message) GetHeader(key string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	val, ok := m.Headers[key]
	return val, ok
}

// Attempt returns the 1-based delivery attempt this message represents.
func (m *Message) Attempt() int {
	return m.RetryCount + 1
}

// MaxAttempts returns the total number of attempts allowed.
func (m *Message) MaxAttempts() int {
	return m.MaxRetries + 1
}

// ShouldRetry determines if the message should be retried
func (m *Message) ShouldRetry() bool {
	return m.RetryCount < m.MaxRetries
}

// Clone returns a deep copy safe to republish.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.Body = append([]byte(nil), m.Body...)
	out.Headers = make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		out.Headers[k] = v
	}
	return &out
}
