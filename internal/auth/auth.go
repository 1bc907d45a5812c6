// Package auth drives the OAuth authorization-code flow against the provider.
//
// A Controller owns at most one authorization attempt. Each attempt opens a
// consent tab, watches that tab's URL for the provider's redirect, exchanges the
// code for a token, fetches the profile and commits both through the credential
// store. Every exit path runs the same teardown: the watcher is removed, the
// timer stopped and the consent tab closed.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"

	"github.com/octobridge/octobridge/internal/credential"
	"github.com/octobridge/octobridge/internal/output"
)

// Defaults for the provider's authorization-code flow.
const (
	DefaultScope   = "repo,user,read:org"
	DefaultState   = "octobridge"
	DefaultTimeout = 60 * time.Second
)

// State is a step of an authorization attempt.
type State int

const (
	StateIdle State = iota
	StateOpening
	StatePending
	StateExchanging
	StateFetchingProfile
	StateCommitting
	StateSucceeded
	StateFailed
	StateTimedOut
)

var stateNames = [...]string{
	StateIdle:            "idle",
	StateOpening:         "opening",
	StatePending:         "pending",
	StateExchanging:      "exchanging",
	StateFetchingProfile: "fetching_profile",
	StateCommitting:      "committing",
	StateSucceeded:       "succeeded",
	StateFailed:          "failed",
	StateTimedOut:        "timed_out",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

// Config holds the provider endpoints and client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthorizeURL string
	TokenURL     string
	RedirectURL  string
	Scope        string
	State        string
	Timeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.AuthorizeURL == "" {
		c.AuthorizeURL = githuboauth.Endpoint.AuthURL
	}
	if c.TokenURL == "" {
		c.TokenURL = githuboauth.Endpoint.TokenURL
	}
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	if c.State == "" {
		c.State = DefaultState
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// ProfileFetcher fetches the profile that belongs to a freshly issued token.
type ProfileFetcher interface {
	UserForToken(ctx context.Context, token string) (json.RawMessage, error)
}

// Recorder receives one call per finished attempt.
type Recorder interface {
	RecordAuthAttempt(outcome string, d time.Duration)
}

// Option configures a Controller.
type Option func(*Controller)

// WithHTTPClient sets the client used for the token exchange.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Controller) { c.httpClient = hc }
}

// WithRecorder installs an attempt recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// Controller runs authorization attempts, one at a time.
type Controller struct {
	cfg        Config
	store      credential.Store
	profiles   ProfileFetcher
	tabs       Tabs
	httpClient *http.Client
	recorder   Recorder
	logger     *slog.Logger

	mu      sync.Mutex
	client  clientCredentials
	current *attempt
	seq     uint64
}

type clientCredentials struct {
	id     string
	secret string
}

// NewController creates a controller.
func NewController(cfg Config, store credential.Store, profiles ProfileFetcher, tabs Tabs, opts ...Option) *Controller {
	cfg = cfg.withDefaults()
	c := &Controller{
		cfg:        cfg,
		store:      store,
		profiles:   profiles,
		tabs:       tabs,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.New(slog.DiscardHandler),
		client:     clientCredentials{id: cfg.ClientID, secret: cfg.ClientSecret},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetClient replaces the OAuth client registration for future attempts.
// Empty values restore the configured defaults.
func (c *Controller) SetClient(id, secret string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" {
		id = c.cfg.ClientID
	}
	if secret == "" {
		secret = c.cfg.ClientSecret
	}
	c.client = clientCredentials{id: id, secret: secret}
}

// ClientID returns the registration future attempts will use.
func (c *Controller) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client.id
}

// State returns the current attempt's state, or StateIdle when none is running.
func (c *Controller) State() State {
	c.mu.Lock()
	a := c.current
	c.mu.Unlock()
	if a == nil {
		return StateIdle
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done {
		return StateIdle
	}
	return a.state
}

// AuthorizationURL returns the consent URL for the current client registration.
func (c *Controller) AuthorizationURL() string {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	return c.authURL(client)
}

func (c *Controller) authURL(client clientCredentials) string {
	oc := &oauth2.Config{
		ClientID:    client.id,
		Endpoint:    oauth2.Endpoint{AuthURL: c.cfg.AuthorizeURL, TokenURL: c.cfg.TokenURL},
		RedirectURL: c.cfg.RedirectURL,
		Scopes:      []string{c.cfg.Scope},
	}
	return oc.AuthCodeURL(c.cfg.State)
}

// Authenticate runs a full authorization attempt and returns the committed
// credential. A running attempt is aborted first. Cancelling ctx aborts the attempt.
func (c *Controller) Authenticate(ctx context.Context) (*credential.Credential, error) {
	a, err := c.begin()
	if err != nil {
		return nil, err
	}

	select {
	case res := <-a.result:
		return res.cred, res.err
	case <-ctx.Done():
		c.finish(a, StateFailed, nil, output.ErrAuthFlow("authorization cancelled", ctx.Err()))
		c.teardown(a)
		return nil, ctx.Err()
	}
}

func (c *Controller) begin() (*attempt, error) {
	c.mu.Lock()
	client := c.client
	if client.id == "" {
		c.mu.Unlock()
		return nil, &output.Error{
			Code:    output.CodeAuthFlow,
			Message: "OAuth client id is not configured",
			Hint:    "Run: octobridge settings set client_id <id>",
		}
	}
	prev := c.current
	c.seq++
	a := newAttempt(c.seq, client)
	c.current = a
	c.mu.Unlock()

	if prev != nil {
		c.finish(prev, StateFailed, nil, output.ErrAuthFlow("superseded by a new authorization attempt", nil))
		// Wait for the previous watcher and tab to be released.
		c.teardown(prev)
	}

	log := c.logger.With("attempt", a.id)
	log.Debug("authorization opening")

	a.mu.Lock()
	a.timer = time.AfterFunc(c.cfg.Timeout, func() {
		log.Warn("authorization timed out", "after", c.cfg.Timeout)
		c.finish(a, StateTimedOut, nil, output.ErrAuthTimeout())
	})
	a.mu.Unlock()

	tab, err := c.tabs.Create(a.ctx, c.authURL(client))
	if err != nil {
		c.finish(a, StateFailed, nil, output.ErrAuthFlow("failed to open consent tab", err))
		return a, nil
	}
	stop := c.tabs.Watch(func(ev TabEvent) { c.onTabEvent(a, ev) })

	a.mu.Lock()
	if a.done {
		// Finished while the tab was opening; teardown may already have run.
		a.mu.Unlock()
		stop()
		c.closeTab(tab)
		return a, nil
	}
	a.tab, a.hasTab = tab, true
	a.stopWatch = stop
	a.state = StatePending
	a.mu.Unlock()

	log.Debug("authorization pending", "tab", tab)
	return a, nil
}

func (c *Controller) onTabEvent(a *attempt, ev TabEvent) {
	a.mu.Lock()
	if a.done || !a.hasTab || ev.TabID != a.tab || a.state != StatePending {
		a.mu.Unlock()
		return
	}

	if ev.Closed {
		a.hasTab = false
		settled := a.settleLocked(StateFailed, nil, output.ErrAuthFlow("consent tab closed", nil))
		a.mu.Unlock()
		if settled {
			c.complete(a)
		}
		return
	}

	out := classifyRedirect(ev.URL, c.cfg.AuthorizeURL, c.cfg.RedirectURL, c.cfg.State)
	switch out.verdict {
	case verdictIgnore:
		a.mu.Unlock()
	case verdictFail:
		settled := a.settleLocked(StateFailed, nil, out.err)
		a.mu.Unlock()
		if settled {
			c.complete(a)
		}
	case verdictCode:
		a.state = StateExchanging
		a.mu.Unlock()
		go c.redeem(a, out.code)
	}
}

// redeem runs the exchange, profile fetch and commit steps.
func (c *Controller) redeem(a *attempt, code string) {
	token, err := c.exchangeCode(a.ctx, a.client, code)
	if err != nil {
		c.finish(a, StateFailed, nil, err)
		return
	}
	if !a.advance(StateExchanging, StateFetchingProfile) {
		return
	}

	raw, err := c.profiles.UserForToken(a.ctx, token)
	if err != nil {
		c.finish(a, StateFailed, nil, output.ErrAuthFlow("failed to fetch user profile", err))
		return
	}
	user, err := credential.ParseProfile(raw)
	if err != nil {
		c.finish(a, StateFailed, nil, output.ErrAuthFlow("invalid user profile", err))
		return
	}
	cred := credential.Credential{Token: token, User: user}

	// The attempt lock is held across the save so a timeout cannot finish the
	// attempt while the credential is being written.
	a.mu.Lock()
	if a.done {
		a.mu.Unlock()
		return
	}
	a.state = StateCommitting
	var settled bool
	if err := c.store.Save(context.WithoutCancel(a.ctx), cred); err != nil {
		settled = a.settleLocked(StateFailed, nil, err)
	} else {
		settled = a.settleLocked(StateSucceeded, &cred, nil)
	}
	a.mu.Unlock()
	if settled {
		c.complete(a)
	}
}

// finish moves a to a terminal state unless it already reached one.
func (c *Controller) finish(a *attempt, state State, cred *credential.Credential, err error) {
	a.mu.Lock()
	settled := a.settleLocked(state, cred, err)
	a.mu.Unlock()
	if settled {
		c.complete(a)
	}
}

// complete runs once per attempt, after it settled.
func (c *Controller) complete(a *attempt) {
	c.teardown(a)

	c.mu.Lock()
	if c.current == a {
		c.current = nil
	}
	c.mu.Unlock()

	a.mu.Lock()
	state, res := a.state, a.res
	a.mu.Unlock()

	d := time.Since(a.started)
	if c.recorder != nil {
		c.recorder.RecordAuthAttempt(state.String(), d)
	}
	if res.err != nil {
		c.logger.Warn("authorization finished", "attempt", a.id, "state", state, "error", res.err, "duration", d)
	} else {
		c.logger.Info("authorization finished", "attempt", a.id, "state", state, "login", res.cred.User.Login, "duration", d)
	}

	a.result <- res
}

// teardown releases the watcher, timer and consent tab. Concurrent callers
// block until the first one is done.
func (c *Controller) teardown(a *attempt) {
	a.teardown.Do(func() {
		a.mu.Lock()
		stop, timer := a.stopWatch, a.timer
		tab, hasTab := a.tab, a.hasTab
		a.stopWatch, a.hasTab = nil, false
		a.mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		a.cancel()
		if stop != nil {
			stop()
		}
		if hasTab {
			c.closeTab(tab)
		}
	})
}

// closeTab is best-effort: the user may already have closed it.
func (c *Controller) closeTab(id TabID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.tabs.Remove(ctx, id); err != nil {
		c.logger.Debug("consent tab already gone", "tab", id, "error", err)
	}
}

type attemptResult struct {
	cred *credential.Credential
	err  error
}

type attempt struct {
	id      uint64
	client  clientCredentials
	started time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	result  chan attemptResult

	teardown sync.Once

	mu        sync.Mutex
	state     State
	done      bool
	res       attemptResult
	tab       TabID
	hasTab    bool
	stopWatch func()
	timer     *time.Timer
}

func newAttempt(id uint64, client clientCredentials) *attempt {
	ctx, cancel := context.WithCancel(context.Background())
	return &attempt{
		id:      id,
		client:  client,
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		result:  make(chan attemptResult, 1),
		state:   StateOpening,
	}
}

func (a *attempt) settleLocked(state State, cred *credential.Credential, err error) bool {
	if a.done {
		return false
	}
	a.done = true
	a.state = state
	a.res = attemptResult{cred: cred, err: err}
	return true
}

func (a *attempt) advance(from, to State) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done || a.state != from {
		return false
	}
	a.state = to
	return true
}
