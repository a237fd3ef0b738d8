package judge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KiloProjects/kilorank"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Options{
		BaseURL:         srv.URL,
		AuthToken:       "secret",
		CallbackURL:     "http://kilorank/api/judge/callback",
		Timeout:         time.Second,
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		HTTPClient:      srv.Client(),
	})
	require.NoError(t, err)
	return c
}

func TestSubmitBatch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/submissions/batch", r.URL.Path)
		assert.Equal(t, "false", r.URL.Query().Get("base64_encoded"))
		assert.Equal(t, "secret", r.Header.Get("X-Auth-Token"))

		var body batchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Submissions, 2)
		assert.Equal(t, "http://kilorank/api/judge/callback/7", body.Submissions[0].CallbackURL)
		assert.Equal(t, "http://elsewhere/cb", body.Submissions[1].CallbackURL)
		assert.Equal(t, "1 2", body.Submissions[1].Stdin)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode([]tokenResponse{{Token: "tok-a"}, {Token: "tok-b"}})
	}))

	tokens, err := c.SubmitBatch(t.Context(), []SubmissionRequest{
		{SourceCode: "print(3)", LanguageID: 71, Stdin: "", ExpectedOutput: "3", SubmissionID: 7},
		{SourceCode: "print(3)", LanguageID: 71, Stdin: "1 2", ExpectedOutput: "3", SubmissionID: 7, CallbackURL: "http://elsewhere/cb"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-a", "tok-b"}, tokens)
}

func TestSubmitBatchRejectedEntry(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]tokenResponse{{Token: "tok-a"}, {Error: "language not found"}})
	}))
	_, err := c.SubmitBatch(t.Context(), []SubmissionRequest{{LanguageID: 1}, {LanguageID: 999}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "language not found")
}

func TestGetDecodesResult(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/submissions/tok-a", r.URL.Path)
		w.Write([]byte(`{"token":"tok-a","status":{"id":4,"description":"Wrong Answer"},"stdout":"4\n","stderr":null,"compile_output":null,"time":"0.012","memory":3400}`))
	}))

	res, err := c.Get(t.Context(), "tok-a")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Status.ID)
	assert.InDelta(t, 0.012, float64(res.Time), 1e-9)

	cb := res.Callback(17)
	assert.Equal(t, 17, cb.SubmissionID)
	assert.Equal(t, kilorank.JudgeFailed, cb.Status.Kind)
	assert.Equal(t, "Wrong Answer", cb.Status.Reason)
	assert.Equal(t, "4\n", cb.Stdout)
	assert.Equal(t, "", cb.Stderr)
	assert.Equal(t, 3400, cb.Memory)
}

func TestRetries(t *testing.T) {
	tests := []struct {
		name      string
		failures  int32
		code      int
		wantErr   bool
		wantCalls int32
	}{
		{"recovers after server errors", 2, http.StatusBadGateway, false, 3},
		{"retries rate limits", 1, http.StatusTooManyRequests, false, 2},
		{"gives up after max retries", 10, http.StatusServiceUnavailable, true, 4},
		{"client errors are permanent", 10, http.StatusUnprocessableEntity, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int32
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) <= tt.failures {
					http.Error(w, "nope", tt.code)
					return
				}
				w.Write([]byte(`{"token":"x","status":{"id":3,"description":"Accepted"},"time":null}`))
			}))

			res, err := c.Get(t.Context(), "x")
			if tt.wantErr {
				require.Error(t, err)
				var serr *StatusError
				require.ErrorAs(t, err, &serr)
				assert.Equal(t, tt.code, serr.Code)
			} else {
				require.NoError(t, err)
				assert.True(t, kilorank.ParseJudgeStatus(res.Status.ID, res.Status.Description).Accepted())
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestRequestTimeout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL, Timeout: 20 * time.Millisecond, MaxRetries: 1, InitialInterval: time.Millisecond, HTTPClient: srv.Client()})
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Get(t.Context(), "slow")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSecondsDecoding(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{`"0.5"`, 0.5},
		{`1.25`, 1.25},
		{`null`, 0},
		{`""`, 0},
	}
	for _, tt := range tests {
		var s Seconds
		require.NoError(t, json.Unmarshal([]byte(tt.in), &s), tt.in)
		assert.InDelta(t, tt.want, float64(s), 1e-9, tt.in)
	}
	var s Seconds
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &s))
}
