// Package vald is the client for the force-plate testing service: athlete
// profiles, test listings and per-test trial results.
package vald

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/okian/forcedeck/internal/adapters/auth"
	"github.com/okian/forcedeck/internal/adapters/retry"
	"github.com/okian/forcedeck/internal/domain/model"
	"github.com/okian/forcedeck/pkg/logger"
	"github.com/okian/forcedeck/pkg/metrics"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 30 * time.Second

// Endpoint names used in metrics and logs.
const (
	EndpointProfiles = "profiles"
	EndpointTests    = "tests"
	EndpointTrials   = "trials"
)

const maxErrorBody = 512

// ReasonDataShape labels listing rows skipped for a bad shape.
const ReasonDataShape = "data_shape"

// Endpoints locates the service.
type Endpoints struct {
	ProfileURL    string
	ForceDecksURL string
	TenantID      string
}

// Client calls the testing service with a bearer token from a Provider.
// A 401 triggers a token refresh and one more attempt.
type Client struct {
	endpoints Endpoints
	tokens    auth.Provider
	http      *http.Client
	policy    retry.Policy
	validate  *validator.Validate
	logger    logger.Logger
}

// NewClient returns a client for the given endpoints.
func NewClient(endpoints Endpoints, tokens auth.Provider, opts ...Option) *Client {
	c := &Client{
		endpoints: Endpoints{
			ProfileURL:    strings.TrimRight(endpoints.ProfileURL, "/"),
			ForceDecksURL: strings.TrimRight(endpoints.ForceDecksURL, "/"),
			TenantID:      endpoints.TenantID,
		},
		tokens:   tokens,
		http:     &http.Client{Timeout: DefaultTimeout},
		policy:   retry.OnUnauthorized(),
		validate: validator.New(),
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Profiles lists the tenant's athletes. Rows without an id are skipped.
func (c *Client) Profiles(ctx context.Context) ([]model.AthleteProfile, error) {
	u := c.endpoints.ProfileURL + "/profiles?" + url.Values{"tenantId": {c.endpoints.TenantID}}.Encode()
	var resp profilesResponse
	if err := c.get(ctx, EndpointProfiles, u, &resp); err != nil {
		return nil, err
	}
	out := make([]model.AthleteProfile, 0, len(resp.Profiles))
	for i, p := range resp.Profiles {
		if err := c.validate.Struct(p); err != nil {
			c.skipRow(ctx, EndpointProfiles, i, err)
			continue
		}
		out = append(out, p.model())
	}
	return out, nil
}

// Tests lists an athlete's tests modified since modifiedFrom. Malformed rows
// are skipped.
func (c *Client) Tests(ctx context.Context, modifiedFrom time.Time, profileID string) ([]model.TestSession, error) {
	q := url.Values{
		"TenantId":        {c.endpoints.TenantID},
		"ModifiedFromUtc": {modifiedFrom.UTC().Format(time.RFC3339)},
		"ProfileId":       {profileID},
	}
	u := c.endpoints.ForceDecksURL + "/tests?" + q.Encode()
	var resp testsResponse
	if err := c.get(ctx, EndpointTests, u, &resp); err != nil {
		return nil, err
	}
	out := make([]model.TestSession, 0, len(resp.Tests))
	for i, t := range resp.Tests {
		if err := c.validate.Struct(t); err != nil {
			c.skipRow(ctx, EndpointTests, i, err)
			continue
		}
		s, err := t.model()
		if err != nil {
			c.skipRow(ctx, EndpointTests, i, err)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (c *Client) skipRow(ctx context.Context, endpoint string, row int, err error) {
	metrics.RecordTestDropped(endpoint, ReasonDataShape)
	c.logger.Warn(ctx, "malformed row skipped",
		logger.String("endpoint", endpoint), logger.Int("row", row), logger.Error(err))
}

// Trials returns every measurement of a test, in the order the service sent
// them. An empty trial list is ErrDataShape.
func (c *Client) Trials(ctx context.Context, testID string) ([]model.Measurement, error) {
	u := fmt.Sprintf("%s/v2019q3/teams/%s/tests/%s/trials",
		c.endpoints.ForceDecksURL, url.PathEscape(c.endpoints.TenantID), url.PathEscape(testID))
	var trials []trialPayload
	if err := c.get(ctx, EndpointTrials, u, &trials); err != nil {
		return nil, err
	}
	if len(trials) == 0 {
		return nil, fmt.Errorf("%w: test %s has no trials", ErrDataShape, testID)
	}
	var out []model.Measurement
	for _, t := range trials {
		for _, r := range t.Results {
			out = append(out, r.model())
		}
	}
	return out, nil
}

// get fetches u into out, which must be a pointer to a payload type.
func (c *Client) get(ctx context.Context, endpoint, u string, out any) error {
	start := time.Now()
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	attempt := func(ctx context.Context) (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return 0, fmt.Errorf("build %s request: %w", endpoint, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return 0, fmt.Errorf("%s request: %w", endpoint, err)
		}
		defer func() { _ = resp.Body.Close() }()

		switch resp.StatusCode {
		case http.StatusOK:
			return http.StatusOK, c.decode(resp.Body, out)
		case http.StatusUnauthorized:
			_, _ = io.Copy(io.Discard, resp.Body)
			return http.StatusUnauthorized, nil
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return resp.StatusCode, &StatusError{Status: resp.StatusCode, Attempts: 1, Body: strings.TrimSpace(string(body))}
		}
	}
	beforeRetry := func(ctx context.Context, status int) error {
		metrics.RecordFetch(endpoint, metrics.OutcomeRetried)
		c.logger.Warn(ctx, "request unauthorized, refreshing token", logger.String("endpoint", endpoint))
		fresh, err := c.tokens.ForceRefresh(ctx, token)
		if err != nil {
			return err
		}
		token = fresh
		return nil
	}

	err = c.policy.Do(ctx, attempt, beforeRetry)
	metrics.RecordFetchLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordFetch(endpoint, metrics.OutcomeDropped)
		return err
	}
	metrics.RecordFetch(endpoint, metrics.OutcomeSuccess)
	return nil
}

func (c *Client) decode(r io.Reader, out any) error {
	if err := json.NewDecoder(r).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrDataShape, err)
	}
	if err := c.validatePayload(out); err != nil {
		return fmt.Errorf("%w: %w", ErrDataShape, err)
	}
	return nil
}

func (c *Client) validatePayload(out any) error {
	switch v := out.(type) {
	case *[]trialPayload:
		for i := range *v {
			if err := c.validate.Struct((*v)[i]); err != nil {
				return err
			}
		}
		return nil
	default:
		return c.validate.Struct(out)
	}
}
