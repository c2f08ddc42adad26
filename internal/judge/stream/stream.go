// Package stream relays persisted judge progress to a client.
package stream

import (
	"context"
	"errors"
	"time"

	"judgecore/internal/judge/model"
	"judgecore/internal/judge/repository"
	"judgecore/internal/judge/verdict"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultPollInterval      = 500 * time.Millisecond
	defaultKeepaliveInterval = 15 * time.Second
	defaultMaxReadFailures   = 3
)

// EventType names a stream event.
type EventType string

const (
	EventResult  EventType = "result"
	EventSummary EventType = "summary"
	EventError   EventType = "error"
)

// Summary closes a stream for a judged submission.
type Summary struct {
	SubmissionID string          `json:"submissionId"`
	Verdict      verdict.Verdict `json:"verdict"`
	Total        int             `json:"total"`
	Passed       int             `json:"passed"`
}

// Event is one message on the stream.
type Event struct {
	Type    EventType             `json:"type"`
	Result  *model.TestCaseResult `json:"result,omitempty"`
	Summary *Summary              `json:"summary,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// Sink is the client side of a stream. Implementations write one frame per call.
type Sink interface {
	Send(event Event) error
	Keepalive() error
}

// Config controls polling.
type Config struct {
	PollInterval      time.Duration `yaml:"pollInterval"`
	KeepaliveInterval time.Duration `yaml:"keepaliveInterval"`
	// MaxReadFailures is how many consecutive store errors are tolerated before giving up.
	MaxReadFailures int `yaml:"maxReadFailures"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = defaultKeepaliveInterval
	}
	if c.MaxReadFailures <= 0 {
		c.MaxReadFailures = defaultMaxReadFailures
	}
}

// Streamer observes submissions through the store. It never writes.
type Streamer struct {
	submissions repository.SubmissionRepository
	problems    repository.ProblemRepository
	cfg         Config
}

// NewStreamer creates a streamer.
func NewStreamer(submissions repository.SubmissionRepository, problems repository.ProblemRepository, cfg Config) *Streamer {
	cfg.ApplyDefaults()
	return &Streamer{submissions: submissions, problems: problems, cfg: cfg}
}

// Run streams results for one submission until it is judged, the store fails,
// the sink fails or ctx is done.
func (s *Streamer) Run(ctx context.Context, submissionID string, sink Sink) error {
	sub, err := s.submissions.Get(ctx, submissionID)
	if err != nil {
		// The transport may already be committed, so the client still gets an error event.
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			_ = sink.Send(Event{Type: EventError, Error: "submission not found"})
			return appErr.New(appErr.SubmissionNotFound)
		}
		_ = sink.Send(Event{Type: EventError, Error: "submission could not be loaded"})
		return appErr.Wrapf(err, appErr.DatabaseError, "load submission failed")
	}

	o := &observer{
		streamer:     s,
		submissionID: submissionID,
		problemID:    sub.ProblemID,
		sink:         sink,
	}

	if done, err := o.tick(ctx); err != nil || done {
		return err
	}

	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()
	keepalive := time.NewTicker(s.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug(ctx, "stream client gone", zap.String("submission_id", submissionID))
			return nil
		case <-keepalive.C:
			if err := sink.Keepalive(); err != nil {
				return err
			}
		case <-poll.C:
			if done, err := o.tick(ctx); err != nil || done {
				return err
			}
		}
	}
}

type observer struct {
	streamer     *Streamer
	submissionID string
	problemID    int64
	sink         Sink
	sent         int
	failures     int
}

// tick reads one snapshot and forwards the delta. It reports true once the stream is closed.
func (o *observer) tick(ctx context.Context) (bool, error) {
	snap, err := o.streamer.submissions.Snapshot(ctx, o.submissionID)
	if err != nil {
		if ctx.Err() != nil {
			return true, nil
		}
		if !errors.Is(err, repository.ErrSubmissionNotFound) {
			o.failures++
			logger.Warn(ctx, "stream snapshot failed",
				zap.String("submission_id", o.submissionID),
				zap.Int("failures", o.failures),
				zap.Error(err),
			)
			if o.failures < o.streamer.cfg.MaxReadFailures {
				return false, nil
			}
		}
		return true, o.sink.Send(Event{Type: EventError, Error: "submission is no longer available"})
	}
	o.failures = 0

	for o.sent < len(snap.Results) {
		result := snap.Results[o.sent]
		if err := o.sink.Send(Event{Type: EventResult, Result: &result}); err != nil {
			return true, err
		}
		o.sent++
	}

	// The snapshot is consistent, so every result of a terminal verdict has been sent by now.
	if !snap.Verdict.IsTerminal() {
		return false, nil
	}
	summary := &Summary{
		SubmissionID: o.submissionID,
		Verdict:      snap.Verdict,
		Total:        o.total(ctx, snap),
		Passed:       passed(snap.Results),
	}
	return true, o.sink.Send(Event{Type: EventSummary, Summary: summary})
}

func (o *observer) total(ctx context.Context, snap model.Snapshot) int {
	cases, err := o.streamer.problems.ListTestCases(ctx, o.problemID)
	if err != nil {
		logger.Warn(ctx, "stream test case count failed", zap.String("submission_id", o.submissionID), zap.Error(err))
		return len(snap.Results)
	}
	return len(cases)
}

func passed(results []model.TestCaseResult) int {
	n := 0
	for _, r := range results {
		if r.Passed {
			n++
		}
	}
	return n
}
