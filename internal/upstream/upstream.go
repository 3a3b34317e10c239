// Package upstream lists released versions from a GitHub-style release API
// and normalizes raw tags into structured versions. Tags that do not match a
// project's accepted pattern are dropped, not errors; an empty result after
// filtering is a legitimate "nothing to do" signal.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/this-is-tobi/multiarch-mirror/internal/config"
	"github.com/this-is-tobi/multiarch-mirror/internal/version"
)

const pageSize = 100

// UnavailableError reports that the release API could not be reached, or kept
// erroring after retries. Planning for the affected project must be aborted;
// other projects proceed independently.
type UnavailableError struct {
	Upstream string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("upstream %s unavailable: %v", e.Upstream, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Client lists releases from one release API endpoint.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	fetchLimit int
	maxTries   uint
	log        zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer credential for sustained API use.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the HTTP client, for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithFetchLimit caps the number of raw releases listed per project.
func WithFetchLimit(limit int) Option {
	return func(c *Client) {
		if limit > 0 {
			c.fetchLimit = limit
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithMaxTries overrides the per-page retry budget, for tests.
func WithMaxTries(tries uint) Option {
	return func(c *Client) {
		if tries > 0 {
			c.maxTries = tries
		}
	}
}

// NewClient returns a Client for the given API base URL, e.g.
// "https://api.github.com".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		fetchLimit: 100,
		maxTries:   4,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type releasePayload struct {
	TagName    string `json:"tag_name"`
	Prerelease bool   `json:"prerelease"`
	Draft      bool   `json:"draft"`
}

// ListReleases pages through the project's releases, normalizing tags against
// the project pattern. Drafts and non-matching tags are dropped; prereleases
// are kept with the flag set so the planner can exclude them. Transient API
// failures are retried with exponential backoff; exhaustion yields an
// UnavailableError.
func (c *Client) ListReleases(ctx context.Context, project config.Project) ([]version.Release, error) {
	releases := make([]version.Release, 0, c.fetchLimit)
	fetched := 0

	for page := 1; fetched < c.fetchLimit; page++ {
		batch, err := c.listPage(ctx, project.Upstream, page)
		if err != nil {
			return nil, &UnavailableError{Upstream: project.Upstream, Err: err}
		}
		if len(batch) == 0 {
			break
		}
		// The limit can land mid-page; the excess is cut, not kept.
		if remaining := c.fetchLimit - fetched; len(batch) > remaining {
			batch = batch[:remaining]
		}
		fetched += len(batch)

		for _, payload := range batch {
			if payload.Draft {
				continue
			}
			parsed, ok := project.Pattern.Match(payload.TagName)
			if !ok {
				c.log.Debug().
					Str("project", project.Name).
					Str("tag", payload.TagName).
					Msg("tag does not match accepted pattern, dropping")
				continue
			}
			releases = append(releases, version.Release{
				RawTag:     payload.TagName,
				Version:    parsed,
				Prerelease: payload.Prerelease,
			})
		}

		if len(batch) < pageSize {
			break
		}
	}

	return releases, nil
}

func (c *Client) listPage(ctx context.Context, slug string, page int) ([]releasePayload, error) {
	url := fmt.Sprintf("%s/repos/%s/releases?per_page=%d&page=%d", c.baseURL, slug, pageSize, page)

	operation := func() ([]releasePayload, error) {
		return c.fetchPage(ctx, url)
	}

	batch, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (c *Client) fetchPage(ctx context.Context, url string) ([]releasePayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "multiarch-mirror")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to decode
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("release api returned status %d", resp.StatusCode)
	default:
		// Client errors (auth, unknown repo) will not heal on retry.
		return nil, backoff.Permanent(fmt.Errorf("release api returned status %d", resp.StatusCode))
	}

	var batch []releasePayload
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("decode release listing: %w", err)
	}

	return batch, nil
}
