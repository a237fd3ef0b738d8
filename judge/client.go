// Package judge talks to the external execution service over its Judge0-compatible HTTP API.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/KiloProjects/kilorank"
	kmetrics "github.com/KiloProjects/kilorank/integrations/prometheus"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Options struct {
	BaseURL     string
	AuthToken   string
	CallbackURL string

	// Timeout bounds every single request attempt
	Timeout    time.Duration
	MaxRetries int

	// InitialInterval and MaxInterval configure the exponential retry backoff
	InitialInterval time.Duration
	MaxInterval     time.Duration

	HTTPClient *http.Client
}

type Client struct {
	base        *url.URL
	authToken   string
	callbackURL string

	timeout         time.Duration
	maxRetries      int
	initialInterval time.Duration
	maxInterval     time.Duration

	http *http.Client
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid judge URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid judge URL %q", opts.BaseURL)
	}
	c := &Client{
		base:        base,
		authToken:   opts.AuthToken,
		callbackURL: opts.CallbackURL,

		timeout:         opts.Timeout,
		maxRetries:      opts.MaxRetries,
		initialInterval: opts.InitialInterval,
		maxInterval:     opts.MaxInterval,

		http: opts.HTTPClient,
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.initialInterval <= 0 {
		c.initialInterval = 200 * time.Millisecond
	}
	if c.maxInterval <= 0 {
		c.maxInterval = 5 * time.Second
	}
	if c.http == nil {
		c.http = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return c, nil
}

// SubmitBatch sends the runs to the judge and returns one token per run, in request order.
func (c *Client) SubmitBatch(ctx context.Context, reqs []SubmissionRequest) ([]string, error) {
	if len(reqs) == 0 {
		return []string{}, nil
	}
	body := batchRequest{Submissions: make([]SubmissionRequest, len(reqs))}
	for i, req := range reqs {
		if req.CallbackURL == "" && c.callbackURL != "" && req.SubmissionID > 0 {
			req.CallbackURL = c.callbackURL + "/" + strconv.Itoa(req.SubmissionID)
		}
		body.Submissions[i] = req
	}

	var resp []tokenResponse
	if err := c.do(ctx, "submit", http.MethodPost, "/submissions/batch", body, &resp); err != nil {
		return nil, err
	}
	if len(resp) != len(reqs) {
		return nil, fmt.Errorf("judge returned %d tokens for %d submissions", len(resp), len(reqs))
	}
	tokens := make([]string, len(resp))
	for i, t := range resp {
		if t.Token == "" {
			return nil, fmt.Errorf("judge rejected submission %d: %s", i, t.Error)
		}
		tokens[i] = t.Token
	}
	return tokens, nil
}

// Get polls the current state of a single run.
func (c *Client) Get(ctx context.Context, token string) (*Result, error) {
	if token == "" {
		return nil, kilorank.ErrMissingRequired
	}
	var res Result
	if err := c.do(ctx, "get", http.MethodGet, "/submissions/"+url.PathEscape(token), nil, &res); err != nil {
		return nil, err
	}
	if res.Token == "" {
		res.Token = token
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, op, method, p string, body any, dest any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	u := *c.base
	u.Path += p
	u.RawQuery = url.Values{"base64_encoded": {"false"}}.Encode()

	start := time.Now()
	attempt := 0
	operation := func() error {
		attempt++
		err := c.attempt(ctx, method, u.String(), payload, dest)
		if err != nil {
			slog.DebugContext(ctx, "Judge request failed", slog.String("op", op), slog.Int("attempt", attempt), slog.Any("err", err))
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	bo.MaxInterval = c.maxInterval
	bo.MaxElapsedTime = 0
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxRetries)), ctx))

	result := "ok"
	if err != nil {
		result = "error"
	}
	kmetrics.JudgeRequestDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
	return err
}

// StatusError is returned when the judge answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("judge responded with status %d: %s", e.Code, e.Body)
}

func (c *Client) attempt(ctx context.Context, method, u string, payload []byte, dest any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("X-Auth-Token", c.authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return backoff.Permanent(errors.New("empty judge response"))
		}
		return backoff.Permanent(fmt.Errorf("could not decode judge response: %w", err))
	}
	return nil
}
