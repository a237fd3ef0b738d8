package judge

import (
	"encoding/json"
	"strconv"

	"github.com/KiloProjects/kilorank"
)

// SubmissionRequest is one run to be executed by the judge.
type SubmissionRequest struct {
	SourceCode     string `json:"source_code"`
	LanguageID     int    `json:"language_id"`
	Stdin          string `json:"stdin,omitempty"`
	ExpectedOutput string `json:"expected_output,omitempty"`
	CallbackURL    string `json:"callback_url,omitempty"`

	// SubmissionID is appended to the client's callback URL when CallbackURL is empty
	SubmissionID int `json:"-"`
}

type batchRequest struct {
	Submissions []SubmissionRequest `json:"submissions"`
}

type tokenResponse struct {
	Token string `json:"token"`
	Error string `json:"error,omitempty"`
}

type Status struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// Result is the judge representation of a single run. It is also the body of judge callbacks.
type Result struct {
	Token         string  `json:"token"`
	Status        Status  `json:"status"`
	Stdout        *string `json:"stdout"`
	Stderr        *string `json:"stderr"`
	CompileOutput *string `json:"compile_output"`
	Message       *string `json:"message"`
	Time          Seconds `json:"time"`
	Memory        *int    `json:"memory"`
}

// Callback converts the result into the form consumed by ingestion.
func (r *Result) Callback(submissionID int) *kilorank.Callback {
	cb := &kilorank.Callback{
		SubmissionID:  submissionID,
		Token:         r.Token,
		Status:        kilorank.ParseJudgeStatus(r.Status.ID, r.Status.Description),
		Stdout:        deref(r.Stdout),
		Stderr:        deref(r.Stderr),
		CompileOutput: deref(r.CompileOutput),
		Time:          float64(r.Time),
	}
	if r.Memory != nil {
		cb.Memory = *r.Memory
	}
	return cb
}

// Seconds decodes the judge's time field, which is sent as a decimal string ("0.012"), a number or null.
type Seconds float64

func (s *Seconds) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = 0
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		if str == "" {
			*s = 0
			return nil
		}
		v, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return err
		}
		*s = Seconds(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = Seconds(v)
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
