package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultExpiresIn = 7200 * time.Second
	expirySafety     = 60 * time.Second
	defaultTimeout   = 30 * time.Second
	maxErrorBody     = 512
)

// ClientCredentials fetches tokens with the OAuth2 client credentials grant.
type ClientCredentials struct {
	url          string
	clientID     string
	clientSecret string
	client       *http.Client
	now          func() time.Time
}

// NewClientCredentials returns a Source posting to tokenURL.
func NewClientCredentials(tokenURL, clientID, clientSecret string, opts ...SourceOption) *ClientCredentials {
	c := &ClientCredentials{
		url:          tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       &http.Client{Timeout: defaultTimeout},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Fetch implements Source. The returned token expires a minute before the
// server says it does. Only a refusal or a response without a token is
// ErrAuthFailed; transport failures and timeouts are returned as is.
func (c *ClientCredentials) Fetch(ctx context.Context) (Token, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("%w: build request: %w", ErrAuthFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Token{}, fmt.Errorf("%w: status %d: %s", ErrAuthFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Token{}, fmt.Errorf("%w: decode response: %w", ErrAuthFailed, err)
	}
	if tr.AccessToken == "" {
		return Token{}, fmt.Errorf("%w: %w", ErrAuthFailed, ErrNoToken)
	}

	expiresIn := defaultExpiresIn
	if tr.ExpiresIn > 0 {
		expiresIn = time.Duration(tr.ExpiresIn) * time.Second
	}
	return Token{AccessToken: tr.AccessToken, ExpiresAt: c.now().Add(expiresIn - expirySafety)}, nil
}
