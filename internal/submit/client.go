// Package submit sends extracted text to the remote ingestion endpoint.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds a single submission when the caller configures none.
const DefaultTimeout = 30 * time.Second

// GenericMessage is reported when the endpoint gives no detail or cannot be reached.
const GenericMessage = "upload failed"

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// Request is the JSON body posted to the ingestion endpoint.
type Request struct {
	CVText      string `json:"cv_text"`
	CandidateID string `json:"candidate_id"`
}

// Ack is a successful acknowledgment from the ingestion endpoint.
type Ack struct {
	StatusCode int `json:"status_code"`
}

// errorBody is the optional failure payload of the ingestion endpoint.
type errorBody struct {
	Detail string `json:"detail"`
}

// SubmissionError reports a rejected or failed submission.
// Message is safe to show to the user; Err holds the underlying cause, if any.
type SubmissionError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
	}
	return e.Message
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Config holds the ingestion endpoint and the fixed submitter identifier.
type Config struct {
	Endpoint    string
	CandidateID string
	Timeout     time.Duration
}

// Client posts extracted text to the ingestion endpoint.
type Client struct {
	endpoint    string
	candidateID string
	timeout     time.Duration
	http        *http.Client
	logger      *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets a logger for request outcomes.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client for cfg. A zero Timeout uses DefaultTimeout.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:    cfg.Endpoint,
		candidateID: cfg.CandidateID,
		timeout:     cfg.Timeout,
		http:        http.DefaultClient,
		logger:      zap.NewNop(),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit posts text with the configured candidate id and waits for the endpoint's answer.
// Any 2xx status is an acknowledgment. Everything else, including transport errors,
// timeouts and undecodable bodies, is returned as *SubmissionError.
func (c *Client) Submit(ctx context.Context, text string) (*Ack, error) {
	body, err := json.Marshal(Request{CVText: text, CandidateID: c.candidateID})
	if err != nil {
		return nil, &SubmissionError{Message: GenericMessage, Err: fmt.Errorf("encode request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &SubmissionError{Message: GenericMessage, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("no response within %s: %w", c.timeout, err)
		}
		c.logger.Warn("submission request failed", zap.String("endpoint", c.endpoint), zap.Error(err))
		return nil, &SubmissionError{Message: GenericMessage, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &SubmissionError{StatusCode: resp.StatusCode, Message: GenericMessage, Err: fmt.Errorf("read response: %w", err)}
	}
	c.logger.Debug("submission response",
		zap.Int("status", resp.StatusCode),
		zap.Int("text_chars", len(text)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &SubmissionError{StatusCode: resp.StatusCode, Message: detailMessage(raw)}
	}
	if len(bytes.TrimSpace(raw)) > 0 && !json.Valid(raw) {
		return nil, &SubmissionError{StatusCode: resp.StatusCode, Message: GenericMessage, Err: errors.New("decode response: malformed JSON body")}
	}
	return &Ack{StatusCode: resp.StatusCode}, nil
}

// detailMessage returns the "detail" field of a failure body, or GenericMessage.
func detailMessage(raw []byte) string {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err != nil {
		return GenericMessage
	}
	if strings.TrimSpace(eb.Detail) != "" {
		return eb.Detail
	}
	return GenericMessage
}
