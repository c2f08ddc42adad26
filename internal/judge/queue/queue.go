// Package queue turns mq messages into judge jobs.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"judgecore/internal/common/mq"
	"judgecore/internal/judge/model"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/contextkey"
	"judgecore/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultTopic       = "judge.submissions"
	defaultGroup       = "judge-worker"
	defaultMaxAttempts = 3

	headerTraceID = "x-trace-id"
)

// Job is one delivery of "judge this submission".
type Job struct {
	SubmissionID string
	Attempt      int
	MaxAttempts  int
	EnqueuedAt   time.Time
}

// Final reports whether a failure of this attempt will not be retried.
func (j Job) Final() bool {
	return j.Attempt >= j.MaxAttempts
}

// Handler judges one job. A returned error schedules a retry.
type Handler interface {
	Judge(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Judge(ctx context.Context, job Job) error { return f(ctx, job) }

// Config controls the job topic and the retry policy.
type Config struct {
	Topic           string        `yaml:"topic"`
	DeadLetterTopic string        `yaml:"deadLetterTopic"`
	ConsumerGroup   string        `yaml:"consumerGroup"`
	Concurrency     int           `yaml:"concurrency"`
	MaxAttempts     int           `yaml:"maxAttempts"`
	BackoffBase     time.Duration `yaml:"backoffBase"`
	BackoffMax      time.Duration `yaml:"backoffMax"`
	MessageTTL      time.Duration `yaml:"messageTTL"`
}

func (c *Config) applyDefaults() {
	if c.Topic == "" {
		c.Topic = defaultTopic
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = defaultGroup
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
}

// Limits caps the consumer. Both fields are optional.
type Limits struct {
	// InFlight bounds running jobs; share it to cap several subscriptions together.
	InFlight mq.FetchLimiter
	// StartRate is a token bucket on job starts.
	StartRate mq.StartLimiter
}

// JobQueue publishes and consumes judge jobs over a MessageQueue.
type JobQueue struct {
	mq  mq.MessageQueue
	cfg Config
}

func New(queue mq.MessageQueue, cfg Config) *JobQueue {
	cfg.applyDefaults()
	return &JobQueue{mq: queue, cfg: cfg}
}

// Config returns the effective configuration.
func (q *JobQueue) Config() Config { return q.cfg }

// Enqueue publishes a job for submissionID. Duplicate enqueues are tolerated downstream.
func (q *JobQueue) Enqueue(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	body, err := json.Marshal(model.JudgeMessage{
		SubmissionID: submissionID,
		EnqueuedAt:   time.Now().UnixMilli(),
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.QueueError, "encode judge message failed")
	}
	msg := mq.NewMessage(body)
	msg.MaxRetries = q.cfg.MaxAttempts - 1
	msg.SetHeader(mq.HeaderPartitionKey, submissionID)
	if traceID, ok := ctx.Value(contextkey.TraceID).(string); ok && traceID != "" {
		msg.SetHeader(headerTraceID, traceID)
	}
	if err := q.mq.Publish(ctx, q.cfg.Topic, msg); err != nil {
		return appErr.Wrapf(err, appErr.JudgeQueueFull, "enqueue judge job failed")
	}
	logger.Info(ctx, "judge job enqueued", zap.String("submission_id", submissionID), zap.String("topic", q.cfg.Topic))
	return nil
}

// Consume subscribes handler to the job topic. Call Start on the MessageQueue afterwards.
func (q *JobQueue) Consume(ctx context.Context, handler Handler, limits Limits) error {
	if handler == nil {
		return errors.New("handler is required")
	}
	opts := &mq.SubscribeOptions{
		ConsumerGroup:   q.cfg.ConsumerGroup,
		Concurrency:     q.cfg.Concurrency,
		MaxRetries:      q.maxRetries(),
		RetryDelay:      q.cfg.BackoffBase,
		MaxRetryDelay:   q.cfg.BackoffMax,
		DeadLetterTopic: q.cfg.DeadLetterTopic,
		MessageTTL:      q.cfg.MessageTTL,
		Limiter:         limits.InFlight,
		StartLimiter:    limits.StartRate,
	}
	return q.mq.SubscribeWithOptions(ctx, q.cfg.Topic, func(ctx context.Context, msg *mq.Message) error {
		job, err := decodeJob(msg)
		if err != nil {
			// Poison messages are acknowledged; retrying cannot fix them.
			logger.Error(ctx, "drop malformed judge message", zap.String("message_id", msg.ID), zap.Error(err))
			return nil
		}
		if job.MaxAttempts <= 0 {
			job.MaxAttempts = q.cfg.MaxAttempts
		}
		jobCtx := context.WithValue(ctx, contextkey.SubmissionID, job.SubmissionID)
		jobCtx = context.WithValue(jobCtx, contextkey.Attempt, job.Attempt)
		if traceID, ok := msg.GetHeader(headerTraceID); ok {
			jobCtx = context.WithValue(jobCtx, contextkey.TraceID, traceID)
		}
		return handler.Judge(jobCtx, job)
	}, opts)
}

// maxRetries maps attempts onto mq retries; mq treats 0 as "use default" so one attempt is -1.
func (q *JobQueue) maxRetries() int {
	if q.cfg.MaxAttempts <= 1 {
		return -1
	}
	return q.cfg.MaxAttempts - 1
}

func decodeJob(msg *mq.Message) (Job, error) {
	var payload model.JudgeMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		return Job{}, err
	}
	if payload.SubmissionID == "" {
		return Job{}, errors.New("submission_id is empty")
	}
	job := Job{
		SubmissionID: payload.SubmissionID,
		Attempt:      msg.Attempt(),
		MaxAttempts:  msg.MaxAttempts(),
	}
	if payload.EnqueuedAt > 0 {
		job.EnqueuedAt = time.UnixMilli(payload.EnqueuedAt)
	}
	return job, nil
}
