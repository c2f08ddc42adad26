package model

// Problem carries the limits a submission is judged under.
type Problem struct {
	ID            int64  `json:"id" yaml:"id"`
	Title         string `json:"title" yaml:"title"`
	TimeLimitMs   int64  `json:"timeLimitMs" yaml:"timeLimitMs"`
	MemoryLimitKB int64  `json:"memoryLimitKb" yaml:"memoryLimitKb"`

	// Points is credited to an author on their first Accepted submission.
	Points int64 `json:"points" yaml:"points"`
}

// TestCase is one input/expected pair, judged in Ordinal order.
type TestCase struct {
	ProblemID      int64  `json:"problemId"`
	Ordinal        int    `json:"ordinal"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
}
