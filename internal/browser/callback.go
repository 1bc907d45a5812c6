// Package browser adapts the system web browser and a loopback redirect
// endpoint to the tab model the authorization flow expects.
package browser

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// DefaultCallbackPort is the loopback port the provider redirects to.
const DefaultCallbackPort = 8976

// CallbackPath is the redirect path.
const CallbackPath = "/callback"

var pageTemplate = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>octobridge</title>
<style>body{font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Helvetica,Arial,sans-serif;margin:4em auto;max-width:32em;color:#24292f}
h1{font-size:1.4em}.err{color:#cf222e}</style></head>
<body>
{{if .Error}}<h1 class="err">Authorization failed</h1>
<p>{{.Error}}{{if .Description}}: {{.Description}}{{end}}</p>
{{else}}<h1>Return to your terminal</h1>
<p>octobridge got the redirect. The sign-in result is shown where you started it. You can close this window.</p>
{{end}}
</body>
</html>
`))

// The page never claims success: the redirect may belong to no pending
// attempt or fail the state check after it is served.

// CallbackServer receives the provider's redirects on the loopback interface
// and hands every full redirect URL to a single handler.
type CallbackServer struct {
	port     int
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger

	mu       sync.Mutex
	onURL    func(string)
	baseURL  string
	stopOnce sync.Once
}

// NewCallbackServer creates a server on port. Port 0 picks a free port.
func NewCallbackServer(port int, logger *slog.Logger) *CallbackServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CallbackServer{port: port, logger: logger}
}

// OnRedirect sets the handler for redirect URLs.
func (s *CallbackServer) OnRedirect(fn func(url string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onURL = fn
}

// Start listens and serves until ctx is cancelled or Stop is called.
// It returns the redirect URL to register with the provider.
func (s *CallbackServer) Start(ctx context.Context) (string, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)

	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}

	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port

	s.mu.Lock()
	s.baseURL = fmt.Sprintf("http://127.0.0.1:%d", s.port)
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+CallbackPath, s.handleCallback)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("callback server stopped", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return s.RedirectURL(), nil
}

// RedirectURL returns the registered redirect target, or "" before Start.
func (s *CallbackServer) RedirectURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + CallbackPath
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store")

	s.mu.Lock()
	full := s.baseURL + r.URL.RequestURI()
	fn := s.onURL
	s.mu.Unlock()

	query := r.URL.Query()
	data := map[string]string{
		"Error":       query.Get("error"),
		"Description": query.Get("error_description"),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}

	s.logger.Debug("redirect received", "has_code", query.Get("code") != "", "error", data["Error"])
	if fn != nil {
		fn(full)
	}
}

// Stop shuts the server down. It is safe to call more than once.
func (s *CallbackServer) Stop() {
	s.stopOnce.Do(func() {
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.server.Shutdown(ctx)
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})
}
