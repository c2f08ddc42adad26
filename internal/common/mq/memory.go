package mq

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process MessageQueue. All subscriptions to a topic compete
// for its messages. A claimed message that is not handled (Stop while it waits for
// a limiter, or a failed retry publish) goes back to the pending set.
type MemoryQueue struct {
	mu            sync.Mutex
	topics        map[string]*memoryTopic
	subscriptions []*memorySubscription
	started       bool
	closed        bool
	paused        atomic.Bool
}

type memoryTopic struct {
	mu      sync.Mutex
	pending []*Message
	notify  chan struct{}
}

type memorySubscription struct {
	topic   string
	proc    *processor
	baseCtx context.Context

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{topics: make(map[string]*memoryTopic)}
}

func (q *MemoryQueue) topic(name string) *memoryTopic {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.topics[name]
	if !ok {
		t = &memoryTopic{notify: make(chan struct{})}
		q.topics[name] = t
	}
	return t
}

// Publish publishes a message to a topic.
func (q *MemoryQueue) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return errors.New("message queue is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m := message.Clone()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	q.topic(topic).push(m)
	return nil
}

// PublishBatch publishes multiple messages in a batch.
func (q *MemoryQueue) PublishBatch(ctx context.Context, topic string, messages []*Message) error {
	if len(messages) == 0 {
		return errors.New("messages are required")
	}
	for _, m := range messages {
		if err := q.Publish(ctx, topic, m); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe subscribes to a topic with default options.
func (q *MemoryQueue) Subscribe(ctx context.Context, topic string, handler HandlerFunc) error {
	return q.SubscribeWithOptions(ctx, topic, handler, nil)
}

// SubscribeWithOptions subscribes to a topic with custom options.
func (q *MemoryQueue) SubscribeWithOptions(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	var options SubscribeOptions
	if opts != nil {
		options = *opts
	}
	options.SetDefaults()

	sub := &memorySubscription{
		topic:   topic,
		proc:    &processor{topic: topic, handler: handler, opts: options, producer: q},
		baseCtx: ctx,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("message queue is closed")
	}
	q.subscriptions = append(q.subscriptions, sub)
	if q.started {
		q.startSubscription(sub)
	}
	return nil
}

// Start starts consuming messages for all subscriptions.
func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("message queue is closed")
	}
	if q.started {
		return nil
	}
	for _, sub := range q.subscriptions {
		q.startSubscription(sub)
	}
	q.started = true
	return nil
}

func (q *MemoryQueue) startSubscription(sub *memorySubscription) {
	if sub.baseCtx == nil {
		sub.baseCtx = context.Background()
	}
	sub.ctx, sub.cancel = context.WithCancel(sub.baseCtx)
	t := q.topicLocked(sub.topic)
	for i := 0; i < sub.proc.opts.Concurrency; i++ {
		sub.wg.Add(1)
		go func() {
			defer sub.wg.Done()
			q.consume(sub, t)
		}()
	}
}

func (q *MemoryQueue) topicLocked(name string) *memoryTopic {
	t, ok := q.topics[name]
	if !ok {
		t = &memoryTopic{notify: make(chan struct{})}
		q.topics[name] = t
	}
	return t
}

func (q *MemoryQueue) consume(sub *memorySubscription, t *memoryTopic) {
	for {
		if sub.ctx.Err() != nil {
			return
		}
		if q.paused.Load() {
			if err := waitUntil(sub.ctx, time.Now().Add(50*time.Millisecond)); err != nil {
				return
			}
			continue
		}
		m, err := t.claim(sub.ctx)
		if err != nil {
			return
		}
		if _, err := sub.proc.process(sub.ctx, m); err != nil {
			t.push(m)
		}
	}
}

// Stop stops all consumers gracefully.
func (q *MemoryQueue) Stop() error {
	q.mu.Lock()
	subs := append([]*memorySubscription(nil), q.subscriptions...)
	q.started = false
	q.mu.Unlock()
	for _, sub := range subs {
		if sub.cancel != nil {
			sub.cancel()
		}
	}
	for _, sub := range subs {
		sub.wg.Wait()
	}
	return nil
}

// Pause pauses consumption.
func (q *MemoryQueue) Pause() error {
	q.paused.Store(true)
	return nil
}

// Resume resumes consumption after pause.
func (q *MemoryQueue) Resume() error {
	q.paused.Store(false)
	return nil
}

// Ping always succeeds for an open queue.
func (q *MemoryQueue) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("message queue is closed")
	}
	return ctx.Err()
}

// Close stops consumers and rejects further publishes.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	return q.Stop()
}

// Pending returns the number of undelivered messages on topic, including delayed retries.
func (q *MemoryQueue) Pending(topic string) int {
	t := q.topic(topic)
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Drain removes and returns every pending message on topic without handling it.
func (q *MemoryQueue) Drain(topic string) []*Message {
	t := q.topic(topic)
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.pending
	t.pending = nil
	return out
}

func (t *memoryTopic) push(m *Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, m)
	sort.SliceStable(t.pending, func(i, j int) bool {
		return t.pending[i].NotBefore.Before(t.pending[j].NotBefore)
	})
	t.broadcastLocked()
}

func (t *memoryTopic) broadcastLocked() {
	close(t.notify)
	t.notify = make(chan struct{})
}

// claim blocks until a due message is available and marks it in flight.
func (t *memoryTopic) claim(ctx context.Context) (*Message, error) {
	for {
		t.mu.Lock()
		var wait time.Duration = -1
		if len(t.pending) > 0 {
			head := t.pending[0]
			if d := time.Until(head.NotBefore); d > 0 {
				wait = d
			} else {
				t.pending = t.pending[1:]
				t.mu.Unlock()
				return head, nil
			}
		}
		notify := t.notify
		t.mu.Unlock()

		var timer *time.Timer
		var timerC <-chan time.Time
		if wait > 0 {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
		case <-notify:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}
