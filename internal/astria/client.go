// Package astria is the client for the external asynchronous tuning service.
package astria

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	back "github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/kiranshivaraju/tryon/internal/config"
)

const (
	backoffInterval = 500 * time.Millisecond
	backoffMax      = 10 * time.Second
	// errorBodyLimit bounds how much of an error response is kept for logs.
	errorBodyLimit = 512
)

// Client is the interface for the tuning service.
type Client interface {
	SubmitTune(ctx context.Context, req SubmitRequest) (*Submission, error)
	CreatePrompt(ctx context.Context, tuneID string, req PromptRequest) (*Prompt, error)
	GetPrompt(ctx context.Context, tuneID, promptID string) (*Prompt, error)
}

// SubmitRequest describes one tune job. Title must be unique in the
// service's namespace; a resubmission under the same title restarts the job.
type SubmitRequest struct {
	Title       string
	Name        string
	ImageURLs   []string
	CallbackURL string
	BaseTuneID  string
}

// Submission is the service's acknowledgement of a tune job.
type Submission struct {
	JobID string
	Token string
}

// DurationObserver receives the wall time of every outbound call.
type DurationObserver interface {
	ObserveDuration(operation string, d time.Duration)
}

// HTTPClient implements Client using the tuning service's REST API.
type HTTPClient struct {
	baseURL   string
	apiKey    string
	modelType string
	branch    string
	retries   int
	client    *http.Client
	observer  DurationObserver
}

// NewHTTPClient creates a client. Every request is bounded by cfg.Timeout.
func NewHTTPClient(cfg config.AstriaConfig, observer DurationObserver) *HTTPClient {
	hc := cleanhttp.DefaultPooledClient()
	hc.Timeout = cfg.Timeout
	return &HTTPClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		modelType: cfg.ModelType,
		branch:    cfg.Branch,
		retries:   cfg.SubmitRetries,
		client:    hc,
		observer:  observer,
	}
}

type tunePayload struct {
	Tune tuneBody `json:"tune"`
}

type tuneBody struct {
	Title      string   `json:"title"`
	Name       string   `json:"name"`
	Branch     string   `json:"branch,omitempty"`
	ModelType  string   `json:"model_type,omitempty"`
	ImageURLs  []string `json:"image_urls"`
	Callback   string   `json:"callback"`
	BaseTuneID any      `json:"base_tune_id,omitempty"`
}

type tuneResponse struct {
	ID    flexID `json:"id"`
	Token string `json:"token"`
}

// SubmitTune posts a new tune job. Transient failures are retried with
// exponential backoff; 4xx responses are not.
func (c *HTTPClient) SubmitTune(ctx context.Context, req SubmitRequest) (*Submission, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	if len(req.ImageURLs) == 0 {
		return nil, fmt.Errorf("%w: at least one image url is required", ErrInvalidRequest)
	}

	body := tunePayload{Tune: tuneBody{
		Title:     req.Title,
		Name:      req.Name,
		Branch:    c.branch,
		ModelType: c.modelType,
		ImageURLs: req.ImageURLs,
		Callback:  req.CallbackURL,
	}}
	if req.BaseTuneID != "" {
		body.Tune.BaseTuneID = numericOrString(req.BaseTuneID)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding tune request: %w", err)
	}

	var out tuneResponse
	op := func() error {
		return c.do(ctx, "submit_tune", http.MethodPost, "/tunes", payload, &out)
	}
	if err := c.retry(ctx, op); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: response carried no tune id", ErrServiceUnavailable)
	}
	return &Submission{JobID: string(out.ID), Token: out.Token}, nil
}

// retry runs op under the configured backoff. Context expiry surfaces as
// ErrServiceUnavailable like any other transient failure.
func (c *HTTPClient) retry(ctx context.Context, op back.Operation) error {
	err := back.Retry(op, back.WithContext(c.backoff(), ctx))
	if err == nil || errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrInvalidRequest) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
}

func (c *HTTPClient) backoff() back.BackOff {
	bf := back.NewExponentialBackOff()
	bf.InitialInterval = backoffInterval
	bf.MaxInterval = backoffMax
	return back.WithMaxRetries(bf, uint64(c.retries))
}

// do sends one request and decodes a 2xx JSON body into out. Errors that
// must not be retried are wrapped with back.Permanent.
func (c *HTTPClient) do(ctx context.Context, operation, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return back.Permanent(fmt.Errorf("building request: %w", err))
	}
	c.setHeaders(httpReq)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if c.observer != nil {
		c.observer.ObserveDuration(operation, time.Since(start))
	}
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrServiceUnavailable, resp.StatusCode, readSnippet(resp.Body))
	case resp.StatusCode >= 400:
		return back.Permanent(fmt.Errorf("%w: status %d: %s", ErrInvalidRequest, resp.StatusCode, readSnippet(resp.Body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return back.Permanent(fmt.Errorf("%w: decoding response: %v", ErrServiceUnavailable, err))
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// classifyError maps transport-level errors to sentinel errors. Caller
// cancellation is not retried.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return back.Permanent(fmt.Errorf("%w: %v", ErrServiceUnavailable, err))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timeout: %v", ErrServiceUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrServiceUnavailable, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, urlErr.Err)
	}
	return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
}

func unwrapPermanent(err error) error {
	var perm *back.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, errorBodyLimit))
	return strings.TrimSpace(string(b))
}

func numericOrString(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return s
}

// flexID accepts either a JSON number or a JSON string.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
