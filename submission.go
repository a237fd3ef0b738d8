package kilorank

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusNone       Status = ""
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusAccepted   Status = "AC"
	StatusRejected   Status = "REJECTED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether the submission has a final verdict.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusFailed
}

// Scan implements the sql.Scanner interface
func (s *Status) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		*s = Status(v)
	case string:
		*s = Status(v)
	default:
		return fmt.Errorf("unsupported scan type for Status: %T", src)
	}
	return nil
}

type ProcessingState string

const (
	ProcessingQueued  ProcessingState = "queued"
	ProcessingRunning ProcessingState = "running"
	ProcessingDone    ProcessingState = "done"
)

func ProcessingStateOf(st JudgeStatus) ProcessingState {
	switch st.Kind {
	case JudgeQueued:
		return ProcessingQueued
	case JudgeProcessing:
		return ProcessingRunning
	default:
		return ProcessingDone
	}
}

// Submission is created externally as PENDING.
// Only the grader moves it forward.
type Submission struct {
	ID         int       `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	UserID     int       `json:"user_id"`
	ProblemID  int       `json:"problem_id"`
	ContestID  *int      `json:"contest_id"`
	LanguageID int       `json:"language_id"`
	Code       string    `json:"code,omitempty"`
	Status     Status    `json:"status"`

	MaxTime   float64 `json:"max_time"`
	MaxMemory int     `json:"max_memory"`

	ProcessingAttempts int `json:"processing_attempts"`

	// AttemptRecorded is set once the submission was counted as a contest attempt
	AttemptRecorded bool `json:"attempt_recorded"`

	TestCases []*TestCase `json:"test_cases,omitempty"`
}

type SubmissionUpdate struct {
	Status Status

	MaxTime   *float64
	MaxMemory *int
}

type TestCase struct {
	ID           int    `json:"id"`
	SubmissionID int    `json:"submission_id"`
	Index        int    `json:"index"`
	Token        string `json:"token"`
	StatusID     int    `json:"status_id"`

	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compile_output"`

	ExecutionTime float64 `json:"execution_time"`
	MemoryUsed    int     `json:"memory_used"`

	ProcessingState ProcessingState `json:"processing_state"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (tc *TestCase) Status() JudgeStatus {
	return ParseJudgeStatus(tc.StatusID, "")
}

// ProblemTest is the input/expected output pair sent to the judge for one test case.
type ProblemTest struct {
	ProblemID      int    `json:"problem_id"`
	Index          int    `json:"index"`
	Stdin          string `json:"stdin"`
	ExpectedOutput string `json:"expected_output"`
}

// Callback is one judge result for one test case, already decoded from the transport.
type Callback struct {
	SubmissionID int
	Token        string
	Status       JudgeStatus

	Stdout        string
	Stderr        string
	CompileOutput string

	Time   float64
	Memory int
}

// TestCaseUpdate returns the storage-level update described by the callback.
func (c *Callback) TestCaseUpdate() TestCaseUpdate {
	return TestCaseUpdate{
		StatusID:        c.Status.Code,
		Stdout:          c.Stdout,
		Stderr:          c.Stderr,
		CompileOutput:   c.CompileOutput,
		ExecutionTime:   c.Time,
		MemoryUsed:      c.Memory,
		ProcessingState: ProcessingStateOf(c.Status),
	}
}

type TestCaseUpdate struct {
	StatusID      int
	Stdout        string
	Stderr        string
	CompileOutput string

	ExecutionTime float64
	MemoryUsed    int

	ProcessingState ProcessingState
}

type SubmissionFilter struct {
	IDs        []int
	ExcludeIDs []int
	Status     Status
	ContestID  *int

	CreatedBefore *time.Time

	Limit     int
	Ascending bool
}
