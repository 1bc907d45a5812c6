package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"

	"github.com/octobridge/octobridge/internal/auth"
)

// SystemTabs opens consent pages in the system browser. The browser gives no
// handle on the page it opened, so every Create yields a synthetic tab and
// redirects arriving at the callback server are reported as navigations of the
// most recently created tab that is still open.
type SystemTabs struct {
	open   func(url string) error
	logger *slog.Logger

	mu        sync.Mutex
	next      auth.TabID
	live      map[auth.TabID]bool
	latest    auth.TabID
	watchers  map[int]func(auth.TabEvent)
	nextWatch int
}

var _ auth.Tabs = (*SystemTabs)(nil)

// Option configures SystemTabs.
type Option func(*SystemTabs)

// WithOpener replaces the function that shows a URL to the user.
func WithOpener(fn func(url string) error) Option {
	return func(t *SystemTabs) { t.open = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *SystemTabs) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewSystemTabs wires a tab manager to server's redirects.
func NewSystemTabs(server *CallbackServer, opts ...Option) *SystemTabs {
	t := &SystemTabs{
		open:     OpenURL,
		logger:   slog.New(slog.DiscardHandler),
		live:     map[auth.TabID]bool{},
		watchers: map[int]func(auth.TabEvent){},
	}
	for _, opt := range opts {
		opt(t)
	}
	if server != nil {
		server.OnRedirect(t.Redirected)
	}
	return t
}

func (t *SystemTabs) Create(_ context.Context, url string) (auth.TabID, error) {
	if err := t.open(url); err != nil {
		t.logger.Warn("could not open browser; visit the URL manually", "url", url, "error", err)
	} else {
		t.logger.Info("opened browser for authorization", "url", url)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.live[t.next] = true
	t.latest = t.next
	return t.next, nil
}

// Remove forgets the tab. The browser window itself stays open.
func (t *SystemTabs) Remove(_ context.Context, id auth.TabID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.live[id] {
		return fmt.Errorf("no tab with id %d", id)
	}
	delete(t.live, id)
	return nil
}

func (t *SystemTabs) Watch(fn func(auth.TabEvent)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextWatch
	t.nextWatch++
	t.watchers[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.watchers, id)
	}
}

// Watchers returns the number of registered watchers.
func (t *SystemTabs) Watchers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.watchers)
}

// Redirected reports url as a navigation of the latest open tab.
// Callbacks run without the lock held.
func (t *SystemTabs) Redirected(url string) {
	t.mu.Lock()
	id := t.latest
	if !t.live[id] {
		t.mu.Unlock()
		t.logger.Debug("redirect with no open authorization tab ignored")
		return
	}
	fns := make([]func(auth.TabEvent), 0, len(t.watchers))
	for _, fn := range t.watchers {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	ev := auth.TabEvent{TabID: id, URL: url}
	for _, fn := range fns {
		fn(ev)
	}
}

// OpenURL opens url in the default browser without waiting for it.
func OpenURL(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "linux":
		cmd = "xdg-open"
		args = []string{url}
	case "windows":
		cmd = "rundll32"
		args = []string{"url.dll,FileProtocolHandler", url}
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	_, err := startDetached(exec.Command(cmd, args...)) //nolint:gosec,noctx // cmd is fixed per platform
	return err
}

// startDetached starts cmd and reaps it in the background. The returned
// channel yields the exit result once the process is gone.
func startDetached(cmd *exec.Cmd) (<-chan error, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	return done, nil
}
