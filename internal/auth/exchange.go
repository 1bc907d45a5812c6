package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/octobridge/octobridge/internal/output"
	"github.com/octobridge/octobridge/internal/version"
)

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// exchangeCode trades an authorization code for a bearer token.
func (c *Controller) exchangeCode(ctx context.Context, client clientCredentials, code string) (string, error) {
	body, err := json.Marshal(tokenRequest{
		ClientID:     client.id,
		ClientSecret: client.secret,
		Code:         code,
		RedirectURI:  c.cfg.RedirectURL,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, bytes.NewReader(body))
	if err != nil {
		return "", output.ErrAuthFlow("token exchange failed", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", output.ErrAuthFlow("token exchange failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", output.ErrAuthFlow("token exchange failed", err)
	}

	var tok tokenResponse
	decodeErr := json.Unmarshal(respBody, &tok)

	// The provider reports most failures as 200 with an error field.
	if decodeErr == nil && tok.Error != "" {
		msg := tok.ErrorDescription
		if msg == "" {
			msg = tok.Error
		}
		return "", output.ErrAuthFlow(msg, nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", output.ErrAuthFlow(fmt.Sprintf("token exchange failed (HTTP %d)", resp.StatusCode), nil)
	}
	if decodeErr != nil {
		return "", output.ErrAuthFlow("token exchange failed", fmt.Errorf("decode response: %w", decodeErr))
	}
	if tok.AccessToken == "" {
		return "", output.ErrAuthFlow("token exchange returned no access token", nil)
	}
	return tok.AccessToken, nil
}
