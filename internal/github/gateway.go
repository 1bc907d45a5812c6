// Package github provides the authenticated proxy for the provider's REST resources.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/octobridge/octobridge/internal/output"
	"github.com/octobridge/octobridge/internal/version"
)

// DefaultBaseURL is the public REST API root.
const DefaultBaseURL = "https://api.github.com"

// DefaultPageSize is the fixed page size for list resources.
const DefaultPageSize = 20

const acceptHeader = "application/vnd.github.v3+json"

// Resource names, used for messages, metrics and traces.
const (
	ResourceRepositories     = "repositories"
	ResourceIssues           = "issues"
	ResourceNotifications    = "notifications"
	ResourceNotificationRead = "notification_read"
	ResourceUser             = "user"
)

var failureMessages = map[string]string{
	ResourceRepositories:     "failed to fetch repositories",
	ResourceIssues:           "failed to fetch issues",
	ResourceNotifications:    "failed to fetch notifications",
	ResourceNotificationRead: "failed to mark notification as read",
	ResourceUser:             "failed to fetch user profile",
}

// TokenSource yields the stored bearer token, or "" when logged out.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Gateway attaches the stored token to outbound calls and maps HTTP failures to
// domain errors. It never retries and never caches.
type Gateway struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	pageSize   int
	hooks      Hooks
	logger     *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// WithPageSize sets the per_page parameter for list resources.
func WithPageSize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.pageSize = n
		}
	}
}

// WithHooks installs request observers.
func WithHooks(h Hooks) Option {
	return func(g *Gateway) {
		if h != nil {
			g.hooks = h
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a gateway against baseURL.
func New(baseURL string, tokens TokenSource, opts ...Option) *Gateway {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	g := &Gateway{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:  strings.TrimRight(baseURL, "/"),
		tokens:   tokens,
		pageSize: DefaultPageSize,
		hooks:    NopHooks{},
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Repositories lists the user's repositories, most recently updated first.
func (g *Gateway) Repositories(ctx context.Context) (json.RawMessage, error) {
	q := url.Values{"sort": {"updated"}, "per_page": {g.perPage()}}
	return g.call(ctx, ResourceRepositories, http.MethodGet, "/user/repos?"+q.Encode())
}

// Issues lists issues across all of the user's repositories.
func (g *Gateway) Issues(ctx context.Context) (json.RawMessage, error) {
	q := url.Values{"filter": {"all"}, "sort": {"updated"}, "per_page": {g.perPage()}}
	return g.call(ctx, ResourceIssues, http.MethodGet, "/issues?"+q.Encode())
}

// Notifications lists the user's notification threads.
func (g *Gateway) Notifications(ctx context.Context) (json.RawMessage, error) {
	q := url.Values{"per_page": {g.perPage()}}
	return g.call(ctx, ResourceNotifications, http.MethodGet, "/notifications?"+q.Encode())
}

// MarkNotificationRead marks a single thread as read.
func (g *Gateway) MarkNotificationRead(ctx context.Context, threadID string) error {
	if threadID == "" {
		return output.ErrUsage("notification id is required")
	}
	_, err := g.call(ctx, ResourceNotificationRead, http.MethodPatch, "/notifications/threads/"+url.PathEscape(threadID))
	return err
}

// CurrentUser fetches the profile of the stored credential's owner.
func (g *Gateway) CurrentUser(ctx context.Context) (json.RawMessage, error) {
	return g.call(ctx, ResourceUser, http.MethodGet, "/user")
}

// UserForToken fetches the profile belonging to token, bypassing the store.
// Used while an authorization is being committed.
func (g *Gateway) UserForToken(ctx context.Context, token string) (json.RawMessage, error) {
	if token == "" {
		return nil, output.ErrAuth("authentication required")
	}
	return g.do(ctx, ResourceUser, http.MethodGet, "/user", token)
}

func (g *Gateway) perPage() string {
	return strconv.Itoa(g.pageSize)
}

func (g *Gateway) call(ctx context.Context, resource, method, path string) (json.RawMessage, error) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, output.ErrAuth("authentication required")
	}
	return g.do(ctx, resource, method, path, token)
}

func (g *Gateway) do(ctx context.Context, resource, method, path, token string) (json.RawMessage, error) {
	info := RequestInfo{Resource: resource, Method: method, URL: g.baseURL + path}

	req, err := http.NewRequestWithContext(ctx, method, info.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "token "+token)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", version.UserAgent())

	ctx = g.hooks.OnRequestStart(ctx, info)
	start := time.Now()

	resp, err := g.httpClient.Do(req)
	if err != nil {
		netErr := output.ErrNetwork(err)
		g.hooks.OnRequestEnd(ctx, info, RequestResult{Duration: time.Since(start), Error: netErr})
		g.logger.Warn("gateway request failed", "resource", resource, "error", err)
		return nil, netErr
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	result := RequestResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Error = output.ErrUpstream(resp.StatusCode, failureMessages[resource])
		g.hooks.OnRequestEnd(ctx, info, result)
		g.logger.Warn("gateway upstream failure",
			"resource", resource, "status", resp.StatusCode, "detail", upstreamDetail(body))
		return nil, result.Error
	}
	if readErr != nil {
		result.Error = output.ErrNetwork(fmt.Errorf("read response: %w", readErr))
		g.hooks.OnRequestEnd(ctx, info, result)
		return nil, result.Error
	}

	g.hooks.OnRequestEnd(ctx, info, result)
	g.logger.Debug("gateway request", "resource", resource, "status", resp.StatusCode, "duration", result.Duration)

	if len(body) == 0 {
		return nil, nil
	}
	return json.RawMessage(body), nil
}

// upstreamDetail pulls the provider's message field out of an error body.
func upstreamDetail(body []byte) string {
	var apiErr struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &apiErr) == nil {
		return apiErr.Message
	}
	return ""
}
