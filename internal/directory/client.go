// Package directory wraps the external identity directory behind a small
// HTTP client. Every method is a single remote call with a bounded timeout
// and no internal retry; retry policy belongs to the caller.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"

	"github.com/pilab-dev/idsync/domain"
)

const listSnapshotKey = "identities"

// identityPayload is the directory's wire shape for one identity.
type identityPayload struct {
	ID       string          `json:"id"`
	Email    string          `json:"email"`
	Metadata metadataPayload `json:"metadata"`
}

type metadataPayload struct {
	Role        *string        `json:"role,omitempty"`
	DisplayName *string        `json:"display_name,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

func (p identityPayload) toDomain() domain.RemoteIdentity {
	return domain.RemoteIdentity{
		ExternalID: p.ID,
		Email:      p.Email,
		Metadata: domain.IdentityMetadata{
			Role:        p.Metadata.Role,
			DisplayName: p.Metadata.DisplayName,
			Attributes:  p.Metadata.Attributes,
		},
	}
}

func toPayloadMetadata(meta domain.IdentityMetadata) metadataPayload {
	return metadataPayload{
		Role:        meta.Role,
		DisplayName: meta.DisplayName,
		Attributes:  meta.Attributes,
	}
}

// Client is the RemoteIdentityClient over the directory's REST contract.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
	pageSize   int

	// The directory has no find-by-email filter, so FindByEmail works off a
	// short-lived snapshot of the full listing.
	listCache *ttlcache.Cache[string, []domain.RemoteIdentity]
}

// NewClient builds a directory client. A missing base URL or credential is a
// configuration error raised here, before any call is attempted.
func NewClient(baseURL, apiKey string, timeout time.Duration, pageSize int, cacheTTL time.Duration) (*Client, error) {
	if baseURL == "" || apiKey == "" {
		return nil, fmt.Errorf("%w: identity directory base URL and API key", domain.ErrConfigurationMissing)
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	cache := ttlcache.New[string, []domain.RemoteIdentity](
		ttlcache.WithTTL[string, []domain.RemoteIdentity](cacheTTL),
		ttlcache.WithDisableTouchOnHit[string, []domain.RemoteIdentity](),
	)
	go cache.Start()

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		timeout:    timeout,
		pageSize:   pageSize,
		listCache:  cache,
	}, nil
}

// Close stops the list cache's expiration goroutine. The client must not be
// used after Close.
func (c *Client) Close() {
	c.listCache.Stop()
}

// Each walks the full directory listing page by page, restarting from the
// beginning on every call. fn errors stop the walk.
func (c *Client) Each(ctx context.Context, fn func(domain.RemoteIdentity) error) error {
	for page := 1; ; page++ {
		var identities []identityPayload
		path := fmt.Sprintf("/identities?page=%d&per_page=%d", page, c.pageSize)
		if err := c.do(ctx, http.MethodGet, path, nil, &identities); err != nil {
			return err
		}
		for _, p := range identities {
			if err := fn(p.toDomain()); err != nil {
				return err
			}
		}
		if len(identities) < c.pageSize {
			return nil
		}
	}
}

// snapshot returns the cached full listing, fetching it when stale.
func (c *Client) snapshot(ctx context.Context) ([]domain.RemoteIdentity, error) {
	if item := c.listCache.Get(listSnapshotKey); item != nil {
		return item.Value(), nil
	}
	var all []domain.RemoteIdentity
	if err := c.Each(ctx, func(id domain.RemoteIdentity) error {
		all = append(all, id)
		return nil
	}); err != nil {
		return nil, err
	}
	c.listCache.Set(listSnapshotKey, all, ttlcache.DefaultTTL)
	return all, nil
}

// FindByEmail returns the identity carrying the email, or (nil, nil) when
// the directory has none.
func (c *Client) FindByEmail(ctx context.Context, email string) (*domain.RemoteIdentity, error) {
	identities, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for i := range identities {
		if identities[i].Email == email {
			id := identities[i]
			return &id, nil
		}
	}
	return nil, nil
}

// Create registers a new identity. The directory rejects duplicate emails
// with a conflict; callers look the email up first so create never doubles
// as a probe.
func (c *Client) Create(ctx context.Context, email string, meta domain.IdentityMetadata) (*domain.RemoteIdentity, error) {
	body := struct {
		Email    string          `json:"email"`
		Metadata metadataPayload `json:"metadata"`
	}{Email: email, Metadata: toPayloadMetadata(meta)}

	var created identityPayload
	if err := c.do(ctx, http.MethodPost, "/identities", body, &created); err != nil {
		return nil, err
	}
	c.listCache.Delete(listSnapshotKey)
	id := created.toDomain()
	return &id, nil
}

// Update replaces the metadata of an existing identity.
func (c *Client) Update(ctx context.Context, externalID string, meta domain.IdentityMetadata) error {
	body := struct {
		Metadata metadataPayload `json:"metadata"`
	}{Metadata: toPayloadMetadata(meta)}
	if err := c.do(ctx, http.MethodPut, "/identities/"+externalID, body, nil); err != nil {
		return err
	}
	c.listCache.Delete(listSnapshotKey)
	return nil
}

// Delete removes an identity. An already-absent identity counts as deleted,
// which keeps delete propagation idempotent.
func (c *Client) Delete(ctx context.Context, externalID string) error {
	err := c.do(ctx, http.MethodDelete, "/identities/"+externalID, nil, nil)
	if err != nil {
		var re *domain.RemoteError
		if errors.As(err, &re) && re.Status == http.StatusNotFound {
			return nil
		}
		return err
	}
	c.listCache.Delete(listSnapshotKey)
	return nil
}

// GetByID fetches one identity by its external id.
func (c *Client) GetByID(ctx context.Context, externalID string) (*domain.RemoteIdentity, error) {
	var payload identityPayload
	if err := c.do(ctx, http.MethodGet, "/identities/"+externalID, nil, &payload); err != nil {
		return nil, err
	}
	id := payload.toDomain()
	return &id, nil
}

// do issues one HTTP call with the client timeout. Failed remote calls come
// back as *domain.RemoteError values, never panics.
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
		return fmt.Errorf("failed to build directory request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.RemoteError{Surface: "identity", Status: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Debug().
			Int("status", resp.StatusCode).
			Str("method", method).
			Str("path", path).
			Msg("Directory call failed")
		return &domain.RemoteError{Surface: "identity", Status: resp.StatusCode, Message: string(raw)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &domain.RemoteError{Surface: "identity", Status: resp.StatusCode,
				Message: fmt.Sprintf("failed to decode response: %v", err)}
		}
	}
	return nil
}

var _ domain.DirectoryClient = (*Client)(nil)
