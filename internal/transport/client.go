package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/octobridge/octobridge/internal/hostutil"
	"github.com/octobridge/octobridge/internal/output"
	"github.com/octobridge/octobridge/internal/router"
	"github.com/octobridge/octobridge/internal/version"
)

// DefaultClientTimeout bounds one message round trip. It is longer than the
// largest auth_timeout the daemon accepts.
const DefaultClientTimeout = 3 * time.Minute

// Client sends messages to a running daemon.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for server, which may be a URL, host:port or :port.
// A nil httpClient uses one whose timeout outlasts an authorization attempt.
func NewClient(server string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultClientTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(hostutil.DaemonURL(server), "/"),
		httpClient: httpClient,
	}
}

// BaseURL returns the daemon URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Send delivers req and returns the daemon's envelope. The error is non-nil
// only when no envelope could be obtained.
func (c *Client) Send(ctx context.Context, req router.Request) (*output.Envelope, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+MessagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, output.ErrUsage(fmt.Sprintf("invalid daemon address %q", c.baseURL))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	httpReq.Header.Set(RequestIDHeader, uuid.NewString())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, daemonUnreachable(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, output.ErrNetwork(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &output.Error{
			Code:       output.CodeNetwork,
			Message:    fmt.Sprintf("daemon returned HTTP %d", resp.StatusCode),
			Hint:       "Is " + c.baseURL + " an octobridge daemon?",
			HTTPStatus: resp.StatusCode,
		}
	}

	var env output.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &output.Error{Code: output.CodeNetwork, Message: "daemon sent an unreadable response", Cause: err}
	}
	return &env, nil
}

// Health checks that the daemon answers.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return daemonUnreachable(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon health check returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func daemonUnreachable(err error) error {
	return &output.Error{
		Code:    output.CodeNetwork,
		Message: "cannot reach the octobridge daemon",
		Hint:    "Start it with: octobridge serve",
		Cause:   err,
	}
}
