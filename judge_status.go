package kilorank

import "fmt"

// Wire status codes used by the judge. Every code above StatusCodeAccepted is a failed run.
const (
	StatusCodeQueued     = 1
	StatusCodeProcessing = 2
	StatusCodeAccepted   = 3
)

type JudgeStatusKind int

const (
	JudgeQueued JudgeStatusKind = iota + 1
	JudgeProcessing
	JudgeAccepted
	JudgeFailed
)

func (k JudgeStatusKind) String() string {
	switch k {
	case JudgeQueued:
		return "queued"
	case JudgeProcessing:
		return "processing"
	case JudgeAccepted:
		return "accepted"
	case JudgeFailed:
		return "failed"
	default:
		return fmt.Sprintf("JudgeStatusKind(%d)", int(k))
	}
}

// JudgeStatus is the decoded form of a judge status code.
// Code keeps the wire value so it can be stored and echoed back.
type JudgeStatus struct {
	Kind   JudgeStatusKind
	Code   int
	Reason string
}

// ParseJudgeStatus is the single place where a wire status code is interpreted.
func ParseJudgeStatus(code int, description string) JudgeStatus {
	switch code {
	case StatusCodeQueued:
		return JudgeStatus{Kind: JudgeQueued, Code: code, Reason: description}
	case StatusCodeProcessing:
		return JudgeStatus{Kind: JudgeProcessing, Code: code, Reason: description}
	case StatusCodeAccepted:
		return JudgeStatus{Kind: JudgeAccepted, Code: code, Reason: description}
	}
	if description == "" {
		description = fmt.Sprintf("judge status %d", code)
	}
	return JudgeStatus{Kind: JudgeFailed, Code: code, Reason: description}
}

func (s JudgeStatus) Terminal() bool {
	return s.Kind == JudgeAccepted || s.Kind == JudgeFailed
}

func (s JudgeStatus) Accepted() bool {
	return s.Kind == JudgeAccepted
}

func (s JudgeStatus) String() string {
	if s.Kind == JudgeFailed {
		return fmt.Sprintf("failed(%s)", s.Reason)
	}
	return s.Kind.String()
}

// Supersedes reports whether a result with status s may overwrite a stored result with status prev.
// Terminal results always overwrite (last terminal write wins); non-terminal results never
// overwrite a terminal one and never move processing back to queued.
func (s JudgeStatus) Supersedes(prev JudgeStatus) bool {
	if s.Terminal() {
		return true
	}
	if prev.Terminal() {
		return false
	}
	return s.Code >= prev.Code
}
