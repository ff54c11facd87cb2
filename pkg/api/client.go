// Package api provides a client for the bondly HTTP API.
package api

import (
	"bufio"
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

	"github.com/avast/retry-go/v4"
)

// Error is an error response returned by the server.
type Error struct {
	StatusCode  int    `json:"-"`
	Description string `json:"error"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	Retryable   bool   `json:"retryable,omitempty"`
}

func (e *Error) Error() string {
	msg := e.Description
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (%s, status %d)", msg, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ErrorCode returns the server's machine readable code for err, or "".
func ErrorCode(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// Client talks to a bondly server. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     clientConfig
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	token      string
	httpClient *http.Client
}

// WithTimeout bounds each non streaming request.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithMaxRetries sets how many times idempotent requests are retried after
// network errors and unavailable responses.
func WithMaxRetries(maxRetries int) ClientOption {
	return func(c *clientConfig) {
		c.maxRetries = maxRetries
	}
}

// WithRetryDelay sets the initial delay between retries. It doubles per attempt.
func WithRetryDelay(delay time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.retryDelay = delay
	}
}

// WithToken sends the participant token as a bearer token.
func WithToken(token string) ClientOption {
	return func(c *clientConfig) {
		c.token = token
	}
}

// WithHTTPClient replaces the underlying HTTP client. Its timeout is ignored
// for event streams.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *clientConfig) {
		c.httpClient = hc
	}
}

// NewClient creates a client for the server at baseURL, e.g. "http://localhost:8080".
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	config := clientConfig{
		timeout:    2 * time.Minute,
		maxRetries: 3,
		retryDelay: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if baseURL == "" {
		return nil, fmt.Errorf("server url is required")
	}
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}
	hc := config.httpClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		httpClient: hc,
		baseURL:    u,
		config:     config,
	}, nil
}

// WithToken returns a copy of the client that authenticates as another participant.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.config.token = token
	return &cp
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// retryable reports whether a failed attempt may be repeated.
func retryable(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

// do sends a JSON request and decodes the JSON response into out. Idempotent
// requests are retried with exponential backoff.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any, headers map[string]string) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	attempt := func() error {
		return c.send(ctx, method, c.endpoint(path, query), body, out, headers)
	}
	if method != http.MethodGet || c.config.maxRetries <= 0 {
		return attempt()
	}
	return retry.Do(attempt,
		retry.Context(ctx),
		retry.Attempts(uint(c.config.maxRetries+1)),
		retry.Delay(c.config.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(retryable),
		retry.LastErrorOnly(true),
	)
}

func (c *Client) send(ctx context.Context, method, target string, body []byte, out any, headers map[string]string) error {
	if c.config.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.timeout)
		defer cancel()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, apiErr); err != nil {
		apiErr.Description = strings.TrimSpace(string(data))
	}
	return apiErr
}

// CreateSession starts a session with the creator's perspective.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResponse, error) {
	var rsp CreateSessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/sessions", nil, req, &rsp, nil); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// GetPartnerInvite resolves a share token.
func (c *Client) GetPartnerInvite(ctx context.Context, shareToken string) (*PartnerInvite, error) {
	var rsp PartnerInvite
	if err := c.do(ctx, http.MethodGet, "/api/partner/"+url.PathEscape(shareToken), nil, nil, &rsp, nil); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// SubmitPartnerResponse records the partner's perspective.
func (c *Client) SubmitPartnerResponse(ctx context.Context, shareToken string, req PartnerResponseRequest) (*PartnerResponseResult, error) {
	var rsp PartnerResponseResult
	if err := c.do(ctx, http.MethodPost, "/api/partner/"+url.PathEscape(shareToken)+"/responses", nil, req, &rsp, nil); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// AnalyzeSession generates advice for both participants.
func (c *Client) AnalyzeSession(ctx context.Context, sessionID string) (*AnalyzeResult, error) {
	var rsp AnalyzeResult
	req := map[string]string{"sessionId": sessionID}
	if err := c.do(ctx, http.MethodPost, "/api/analyze-session", nil, req, &rsp, nil); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// GetSessionStatus returns the session's status and advice readiness.
func (c *Client) GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	var rsp SessionStatus
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID)+"/status", nil, nil, &rsp, nil); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// GetAdviceID returns the id of the advice for one role. found is false when
// no advice exists yet.
func (c *Client) GetAdviceID(ctx context.Context, sessionID string, isCreator bool) (id string, found bool, err error) {
	var rsp struct {
		AdviceID *string `json:"adviceId"`
	}
	q := url.Values{}
	q.Set("sessionId", sessionID)
	q.Set("isCreator", strconv.FormatBool(isCreator))
	if err := c.do(ctx, http.MethodGet, "/api/get-advice-id", q, nil, &rsp, nil); err != nil {
		return "", false, err
	}
	if rsp.AdviceID == nil || *rsp.AdviceID == "" {
		return "", false, nil
	}
	return *rsp.AdviceID, true, nil
}

// GetAdvice fetches advice by id.
func (c *Client) GetAdvice(ctx context.Context, adviceID string) (*Advice, error) {
	var rsp Advice
	if err := c.do(ctx, http.MethodGet, "/api/advice/"+url.PathEscape(adviceID), nil, nil, &rsp, nil); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// ListMySessions lists the sessions of the participant the client's token identifies.
func (c *Client) ListMySessions(ctx context.Context) ([]SessionSummary, error) {
	var rsp struct {
		Sessions []SessionSummary `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/me/sessions", nil, nil, &rsp, nil); err != nil {
		return nil, err
	}
	return rsp.Sessions, nil
}

// Cleanup triggers a retention sweep.
func (c *Client) Cleanup(ctx context.Context, cronSecret string) (*CleanupResult, error) {
	var rsp CleanupResult
	var headers map[string]string
	if cronSecret != "" {
		headers = map[string]string{"Authorization": "Bearer " + cronSecret}
	}
	if err := c.do(ctx, http.MethodGet, "/api/cleanup", nil, nil, &rsp, headers); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// Version returns the server's version information.
func (c *Client) Version(ctx context.Context) (*VersionInfo, error) {
	var rsp VersionInfo
	if err := c.do(ctx, http.MethodGet, "/version", nil, nil, &rsp, nil); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// Events subscribes to the session's event stream. The returned channel is
// closed when the stream ends or ctx is cancelled.
func (c *Client) Events(ctx context.Context, sessionID string) (<-chan SessionEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/sessions/"+url.PathEscape(sessionID)+"/events", nil), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	hc := *c.httpClient
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	out := make(chan SessionEvent, 4)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		readEvents(ctx, resp.Body, out)
	}()
	return out, nil
}

// readEvents parses a text/event-stream body and forwards session events.
func readEvents(ctx context.Context, body io.Reader, out chan<- SessionEvent) {
	sc := bufio.NewScanner(body)
	var name string
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if name == "session" && data.Len() > 0 {
				var ev SessionEvent
				if err := json.Unmarshal([]byte(data.String()), &ev); err == nil {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}
