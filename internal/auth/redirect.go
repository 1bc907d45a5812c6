package auth

import (
	"net/url"
	"strings"

	"github.com/octobridge/octobridge/internal/output"
)

type verdict int

const (
	verdictIgnore verdict = iota // still on the provider, or unrelated navigation
	verdictFail
	verdictCode
)

type redirectOutcome struct {
	verdict verdict
	code    string
	err     error
}

// classifyRedirect inspects a URL seen on the consent tab.
func classifyRedirect(raw, authorizeURL, redirectURL, state string) redirectOutcome {
	if endpoint := stripScheme(authorizeURL); endpoint != "" && strings.Contains(raw, endpoint) {
		return redirectOutcome{verdict: verdictIgnore}
	}

	query := queryOf(raw)

	if strings.Contains(raw, "error=") {
		reason := query.Get("error_description")
		if reason == "" {
			reason = query.Get("error")
		}
		msg := "authorization failed"
		if reason != "" {
			msg += ": " + reason
		}
		return redirectOutcome{verdict: verdictFail, err: output.ErrAuthFlow(msg, nil)}
	}

	if !strings.Contains(raw, "success=true") && (redirectURL == "" || !strings.HasPrefix(raw, redirectURL)) {
		return redirectOutcome{verdict: verdictIgnore}
	}

	code := query.Get("code")
	if code == "" {
		return redirectOutcome{verdict: verdictFail, err: output.ErrAuthFlow("authorization code missing", nil)}
	}
	if got := query.Get("state"); got != "" && state != "" && got != state {
		return redirectOutcome{verdict: verdictFail, err: output.ErrAuthFlow("state mismatch", nil)}
	}
	return redirectOutcome{verdict: verdictCode, code: code}
}

func stripScheme(u string) string {
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return u
}

func queryOf(raw string) url.Values {
	_, q, ok := strings.Cut(raw, "?")
	if !ok {
		return url.Values{}
	}
	q, _, _ = strings.Cut(q, "#")
	// Malformed pairs are dropped; the rest are still usable.
	values, _ := url.ParseQuery(q)
	return values
}
