// Package profile wraps the external profile table, a PostgREST-style row
// store keyed by email. As with the directory client, each method is one
// remote call with a bounded timeout and no internal retry.
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pilab-dev/idsync/domain"
)

// Client is the RemoteProfileClient.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient builds a profile client. Missing endpoint or credential is a
// configuration error raised before any call.
func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	if baseURL == "" || apiKey == "" {
		return nil, fmt.Errorf("%w: profile table base URL and API key", domain.ErrConfigurationMissing)
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		timeout:    timeout,
	}, nil
}

func emailFilter(email string) string {
	return "/profiles?email=" + url.QueryEscape("eq."+email)
}

// ExistsByEmail checks whether a profile row exists for the email.
func (c *Client) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var rows []domain.RemoteProfile
	if err := c.do(ctx, http.MethodGet, emailFilter(email), nil, &rows); err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// Upsert inserts the row when absent, otherwise patches it. Both paths are
// keyed by email, so repeating the call converges on the same single row.
func (c *Client) Upsert(ctx context.Context, profile domain.RemoteProfile) error {
	exists, err := c.ExistsByEmail(ctx, profile.Email)
	if err != nil {
		return err
	}
	if exists {
		return c.do(ctx, http.MethodPatch, emailFilter(profile.Email), profile, nil)
	}
	return c.do(ctx, http.MethodPost, "/profiles", profile, nil)
}

// DeleteByEmail removes the profile row. Deleting an absent row succeeds.
func (c *Client) DeleteByEmail(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodDelete, emailFilter(email), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Prefer", "return=minimal")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.RemoteError{Surface: "profile", Status: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &domain.RemoteError{Surface: "profile", Status: resp.StatusCode, Message: string(raw)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &domain.RemoteError{Surface: "profile", Status: resp.StatusCode,
				Message: fmt.Sprintf("failed to decode response: %v", err)}
		}
	}
	return nil
}

var _ domain.ProfileClient = (*Client)(nil)
