// Package verdict holds the verdict state machine.
package verdict

import (
	"errors"
	"fmt"
	"strings"
)

// Verdict is the judged state of a submission.
type Verdict string

const (
	Pending             Verdict = "Pending"
	Accepted            Verdict = "Accepted"
	WrongAnswer         Verdict = "WrongAnswer"
	TimeLimitExceeded   Verdict = "TimeLimitExceeded"
	MemoryLimitExceeded Verdict = "MemoryLimitExceeded"
	RuntimeError        Verdict = "RuntimeError"
	CompilationError    Verdict = "CompilationError"
	SystemError         Verdict = "SystemError"
)

// ErrInvalidTransition is returned for any move other than Pending to a terminal verdict.
var ErrInvalidTransition = errors.New("invalid verdict transition")

// IsTerminal reports whether v is a final verdict.
func (v Verdict) IsTerminal() bool {
	switch v {
	case Accepted, WrongAnswer, TimeLimitExceeded, MemoryLimitExceeded,
		RuntimeError, CompilationError, SystemError:
		return true
	default:
		return false
	}
}

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool {
	return v == Pending || v.IsTerminal()
}

// Transition validates from -> to.
func Transition(from, to Verdict) error {
	if from == Pending && to.IsTerminal() {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// CaseResult is the classification of one test case run.
type CaseResult int

const (
	CasePassed CaseResult = iota
	CaseWrongAnswer
	CaseTimeout
	CaseMemoryExceeded
	CaseRuntimeError
	CaseCompileError
)

// Contribution is the verdict a single case result pushes the submission towards.
func (c CaseResult) Contribution() Verdict {
	switch c {
	case CasePassed:
		return Accepted
	case CaseWrongAnswer:
		return WrongAnswer
	case CaseTimeout:
		return TimeLimitExceeded
	case CaseMemoryExceeded:
		return MemoryLimitExceeded
	case CaseRuntimeError:
		return RuntimeError
	case CaseCompileError:
		return CompilationError
	default:
		return SystemError
	}
}

// OutputMatches compares outputs after trimming surrounding whitespace.
func OutputMatches(actual, expected string) bool {
	return strings.TrimSpace(actual) == strings.TrimSpace(expected)
}

// Machine folds case results, in order, into a final verdict.
// It stops at the first non-passing case.
type Machine struct {
	total   int
	seen    int
	passed  int
	current Verdict
}

// NewMachine starts a machine for total test cases.
func NewMachine(total int) *Machine {
	return &Machine{total: total, current: Pending}
}

// Observe records the next case and returns its contribution and whether judging is done.
func (m *Machine) Observe(c CaseResult) (Verdict, bool) {
	return m.apply(c.Contribution())
}

// Replay feeds a contribution that was persisted by an earlier attempt.
func (m *Machine) Replay(contribution Verdict) (Verdict, bool) {
	if !contribution.IsTerminal() {
		contribution = SystemError
	}
	return m.apply(contribution)
}

// Fail ends judging with SystemError.
func (m *Machine) Fail() Verdict {
	if !m.current.IsTerminal() {
		m.current = SystemError
	}
	return m.current
}

func (m *Machine) apply(contribution Verdict) (Verdict, bool) {
	if m.current.IsTerminal() {
		return contribution, true
	}
	m.seen++
	if contribution != Accepted {
		m.current = contribution
		return contribution, true
	}
	m.passed++
	if m.seen >= m.total {
		m.current = Accepted
		return contribution, true
	}
	return contribution, false
}

// Verdict is Pending until the machine is done.
func (m *Machine) Verdict() Verdict { return m.current }

// Seen is the number of cases observed so far.
func (m *Machine) Seen() int { return m.seen }

// Passed is the number of passing cases observed so far.
func (m *Machine) Passed() int { return m.passed }

// Done reports whether a terminal verdict was reached.
func (m *Machine) Done() bool { return m.current.IsTerminal() }
