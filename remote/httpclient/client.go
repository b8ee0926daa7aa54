// Package httpclient implements the remote runtime contract over JSON/HTTP.
// One Client serves as remote.Client (submit, cancel), remote.ThreadStore,
// remote.AgentDirectory, and remote.Uploader. Idempotent reads go through the
// configured retry policy; mutations are single-shot. Event streaming is not
// served over plain HTTP: Subscribe returns remote.ErrStreamingUnsupported and
// callers wire the Pulse transport instead.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"goa.design/threadview/remote"
	"goa.design/threadview/remote/retry"
)

type (
	// Option configures the HTTP client.
	Option func(*Client)

	// Client talks to the runtime's HTTP API.
	Client struct {
		base    string
		http    *http.Client
		headers http.Header
		limiter *rate.Limiter
		retry   retry.Config
	}
)

// WithHTTPClient overrides the underlying *http.Client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithHeader adds a static header to all outgoing requests.
func WithHeader(name, value string) Option {
	return func(cl *Client) {
		if cl.headers == nil {
			cl.headers = make(http.Header)
		}
		cl.headers.Add(name, value)
	}
}

// WithBearerToken configures the client to send an Authorization Bearer token.
func WithBearerToken(token string) Option {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithRateLimiter bounds the outgoing request rate. All operations, including
// mutations, wait on the limiter before issuing.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(cl *Client) {
		cl.limiter = l
	}
}

// WithRetry overrides the retry policy applied to idempotent reads.
func WithRetry(cfg retry.Config) Option {
	return func(cl *Client) {
		cl.retry = cfg
	}
}

// New constructs a Client for the runtime API rooted at base (for example,
// "https://runtime.example.com/api").
func New(base string, opts ...Option) (*Client, error) {
	if base == "" {
		return nil, fmt.Errorf("httpclient: base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("httpclient: invalid base URL: %w", err)
	}
	cl := &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(http.Header),
		retry:   retry.DefaultConfig(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cl)
		}
	}
	if cl.http == nil {
		cl.http = &http.Client{Timeout: 30 * time.Second}
	}
	return cl, nil
}

// Ensure Client implements the remote contracts.
var (
	_ remote.Client         = (*Client)(nil)
	_ remote.ThreadStore    = (*Client)(nil)
	_ remote.AgentDirectory = (*Client)(nil)
	_ remote.Uploader       = (*Client)(nil)
)

// Submit sends a run submission. An empty threadID asks the runtime to create
// a thread for the run.
func (c *Client) Submit(ctx context.Context, threadID string, req remote.SubmitRequest) error {
	path := "/runs"
	if threadID != "" {
		path = "/threads/" + url.PathEscape(threadID) + "/runs"
	}
	return c.do(ctx, http.MethodPost, path, req, nil)
}

// CancelRun cancels the in-flight run on the thread.
func (c *Client) CancelRun(ctx context.Context, threadID string) error {
	path := "/threads/" + url.PathEscape(threadID) + "/runs/cancel"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// Subscribe is not supported over plain HTTP.
func (c *Client) Subscribe(context.Context, string, remote.Handler) (remote.Subscription, error) {
	return nil, remote.ErrStreamingUnsupported
}

// GetThread fetches the thread, retrying transient failures.
func (c *Client) GetThread(ctx context.Context, threadID string) (remote.Thread, error) {
	var thread remote.Thread
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/threads/"+url.PathEscape(threadID), nil, &thread)
	})
	return thread, err
}

// PatchThreadMetadata replaces the thread metadata wholesale. Not retried:
// the caller's read-merge-write cycle must restart from a fresh read.
func (c *Client) PatchThreadMetadata(ctx context.Context, threadID string, metadata map[string]any) error {
	body := map[string]any{"metadata": metadata}
	return c.do(ctx, http.MethodPatch, "/threads/"+url.PathEscape(threadID), body, nil)
}

// GetAgent fetches an agent by identifier, retrying transient failures.
func (c *Client) GetAgent(ctx context.Context, agentID string) (remote.Agent, error) {
	var agent remote.Agent
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, "/assistants/"+url.PathEscape(agentID), nil, &agent)
	})
	return agent, err
}

// SearchAgents lists agents backed by the named graph, retrying transient
// failures.
func (c *Client) SearchAgents(ctx context.Context, graphName string) ([]remote.Agent, error) {
	var agents []remote.Agent
	body := map[string]any{"graph_id": graphName}
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/assistants/search", body, &agents)
	})
	return agents, err
}

// Upload stores an artifact under the given filename and returns its
// reference. The content is sent as the raw request body.
func (c *Client) Upload(ctx context.Context, filename string, content []byte) (remote.UploadResult, error) {
	if err := c.wait(ctx); err != nil {
		return remote.UploadResult{}, err
	}
	u := c.base + "/artifacts?" + url.Values{"filename": {filename}}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(content))
	if err != nil {
		return remote.UploadResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return remote.UploadResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return remote.UploadResult{}, statusError(resp)
	}
	var result remote.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return remote.UploadResult{}, fmt.Errorf("httpclient: decode upload result: %w", err)
	}
	return result, nil
}

// do issues one JSON request and decodes the response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("httpclient: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	c.setHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("httpclient: decode response: %w", err)
	}
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) setHeaders(req *http.Request) {
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
}

// statusError converts a non-2xx response into a typed status error, using
// the response body (truncated) as the message.
func statusError(resp *http.Response) error {
	msg := http.StatusText(resp.StatusCode)
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 512)); err == nil && len(data) > 0 {
		msg = strings.TrimSpace(string(data))
	}
	return &remote.HTTPStatusError{StatusCode: resp.StatusCode, Message: msg}
}
