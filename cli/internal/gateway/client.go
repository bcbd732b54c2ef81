// Package gateway is the HTTP client for the report backend: it fetches a
// project's findings, asks the AI suggestion endpoint for remediation advice
// and downloads exported reports.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"aiowasp/cli/internal/logging"
	"aiowasp/cli/internal/tokens"
	"aiowasp/cli/internal/version"
)

const (
	_defaultTimeout = 60 * time.Second
	_maxPayload     = 64 << 20

	findingsPath = "/api/owasp/report/export"
	suggestPath  = "/api/aiowasp/suggest"
	exportPath   = "/api/owasp/report/export"

	requestIDHeader = "X-Request-Id"
)

// ErrUnreachable indicates the backend could not be reached (connection
// refused, timeout) or answered with a non-2xx status.
var ErrUnreachable = errors.New("report server unreachable")

// Client calls the report backend. Zero value is not valid; use NewClient.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	logger      *zap.Logger
	requests    *rate.Limiter
	tokens      *rate.Limiter
	tokenBudget int
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for request tracing. A nil logger
// discards logs.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logging.OrNop(l)
	}
}

// WithRateLimit caps outgoing requests to perSecond (burst 1). A value
// <= 0 disables the limit.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.requests = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithTokenBudget caps suggestion calls to an estimated perMinute model
// tokens. A value <= 0 disables the budget.
func WithTokenBudget(perMinute int) Option {
	return func(c *Client) {
		if perMinute > 0 {
			c.tokenBudget = perMinute
			c.tokens = rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute)
		}
	}
}

// NewClient builds a client. baseURL is the server root (e.g.
// http://localhost:9000). If httpClient is nil, a default client with a 60s
// timeout is used.
func NewClient(baseURL string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: _defaultTimeout}
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the server root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// FetchFindings returns the raw JSON report of project for taxonomy
// version. The payload is not interpreted here.
func (c *Client) FetchFindings(ctx context.Context, project, version string) ([]byte, error) {
	q := url.Values{}
	q.Set("project", project)
	q.Set("format", string(FormatJSON))
	q.Set("version", version)
	resp, err := c.get(ctx, findingsPath, q)
	if err != nil {
		return nil, fmt.Errorf("fetch findings: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, _maxPayload))
	if err != nil {
		return nil, fmt.Errorf("fetch findings: read body: %w", errors.Join(ErrUnreachable, err))
	}
	return data, nil
}

// SuggestRequest carries the finding context sent to the suggestion
// endpoint.
type SuggestRequest struct {
	Code          string
	OwaspCategory string
	CweID         string
	Language      string
	FileName      string
}

// SuggestResponse is the suggestion endpoint's answer. Success false or a
// non-empty Error means the analysis failed even though the call succeeded.
type SuggestResponse struct {
	Success          bool   `json:"success"`
	AnalysisResult   string `json:"analysisResult"`
	Error            string `json:"error,omitempty"`
	TokensUsed       int    `json:"tokensUsed,omitempty"`
	ProcessingTimeMs int64  `json:"processingTimeMs,omitempty"`
	ModelUsed        string `json:"modelUsed,omitempty"`
}

// Suggest asks the backend for a remediation suggestion. Transport failures
// and non-2xx statuses return an error wrapping ErrUnreachable; an
// undecodable body is a plain error. With a token budget configured, the
// call first waits for the request's estimated cost.
func (c *Client) Suggest(ctx context.Context, req SuggestRequest) (*SuggestResponse, error) {
	if c.tokens != nil {
		cost := tokens.RequestCost(req.Code, req.OwaspCategory, req.CweID, req.Language, req.FileName)
		if err := c.tokens.WaitN(ctx, tokens.Clamp(cost, c.tokenBudget)); err != nil {
			return nil, fmt.Errorf("suggest: token budget: %w", err)
		}
	}
	q := url.Values{}
	q.Set("code", req.Code)
	q.Set("owaspCategory", req.OwaspCategory)
	q.Set("cweId", req.CweID)
	q.Set("language", req.Language)
	q.Set("fileName", req.FileName)
	resp, err := c.get(ctx, suggestPath, q)
	if err != nil {
		return nil, fmt.Errorf("suggest: %w", err)
	}
	defer resp.Body.Close()
	var body SuggestResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, _maxPayload)).Decode(&body); err != nil {
		return nil, fmt.Errorf("suggest: parse response: %w", err)
	}
	return &body, nil
}

// get issues a GET to path with query and returns the response when the
// status is 2xx. The caller closes the body.
func (c *Client) get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	if c.requests != nil {
		if err := c.requests.Wait(ctx); err != nil {
			return nil, err
		}
	}
	u := c.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	id := uuid.NewString()
	req.Header.Set(requestIDHeader, id)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("path", path), zap.String("request_id", id), zap.Error(err))
		return nil, errors.Join(ErrUnreachable, err)
	}
	c.logger.Debug("request",
		zap.String("path", path),
		zap.String("request_id", id),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnreachable, resp.StatusCode)
	}
	return resp, nil
}
