// Package trustpilot is the review-source client: OAuth token exchange,
// review fetching, and outbound replies against the Trustpilot business API.
package trustpilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/reviewpilot/rp/internal/models"
)

const defaultBaseURL = "https://api.trustpilot.com/v1"

// ErrNotConfigured indicates missing credentials or business unit id. Callers
// treat this as a configuration error that aborts a sync run before the loop.
var ErrNotConfigured = errors.New("trustpilot credentials not configured")

// Config holds the Trustpilot API credentials.
type Config struct {
	APIKey         string
	APISecret      string
	BusinessUnitID string
}

// Configured reports whether all required credentials are present.
func (c Config) Configured() bool {
	return c.APIKey != "" && c.APISecret != "" && c.BusinessUnitID != ""
}

// FetchOptions bounds and filters a review fetch.
type FetchOptions struct {
	Stars int       // 0 = all ratings
	Limit int       // max reviews per fetch; the API caps at 100
	Since time.Time // zero = no lower bound
}

// BusinessUnit is the subset of business-unit metadata the dashboard shows.
type BusinessUnit struct {
	ID              string `json:"id"`
	Name            string `json:"displayName"`
	NumberOfReviews int    `json:"numberOfReviews"`
}

// Client talks to the Trustpilot API. All calls carry a bounded timeout via
// the underlying http.Client.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a Trustpilot client with a 30s per-call timeout.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:     cfg,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SetBaseURL overrides the API base URL, used in tests.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = strings.TrimSuffix(u, "/")
}

// token returns a cached access token, fetching a fresh one when missing or
// within a minute of expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	if !c.cfg.Configured() {
		return "", ErrNotConfigured
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-time.Minute)) {
		return c.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/oauth/oauth-business-users-for-applications/accesstoken",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.APIKey, c.cfg.APISecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch access token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch access token: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("fetch access token: empty token in response")
	}

	ttl := time.Hour
	if secs, err := strconv.Atoi(body.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	c.accessToken = body.AccessToken
	c.tokenExpiry = time.Now().Add(ttl)
	return c.accessToken, nil
}

// wireReview is the review shape on the private reviews endpoint.
type wireReview struct {
	ID       string `json:"id"`
	Rating   int    `json:"stars"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	Language string `json:"language"`
	Consumer struct {
		DisplayName string `json:"displayName"`
	} `json:"consumer"`
	IsVerified bool      `json:"isVerified"`
	CreatedAt  time.Time `json:"createdAt"`
}

// FetchReviews retrieves recent reviews for the configured business unit,
// newest first.
func (c *Client) FetchReviews(ctx context.Context, opts FetchOptions) ([]*models.Review, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{"orderBy": {"createdat.desc"}}
	if opts.Limit > 0 {
		q.Set("perPage", strconv.Itoa(opts.Limit))
	}
	if opts.Stars > 0 {
		q.Set("stars", strconv.Itoa(opts.Stars))
	}
	if !opts.Since.IsZero() {
		q.Set("startDateTime", opts.Since.UTC().Format(time.RFC3339))
	}

	endpoint := fmt.Sprintf("%s/private/business-units/%s/reviews?%s",
		c.baseURL, c.cfg.BusinessUnitID, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build reviews request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch reviews: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch reviews: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Reviews []wireReview `json:"reviews"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode reviews response: %w", err)
	}

	reviews := make([]*models.Review, 0, len(body.Reviews))
	for _, w := range body.Reviews {
		reviews = append(reviews, &models.Review{
			SourceID:   w.ID,
			AuthorName: w.Consumer.DisplayName,
			Title:      w.Title,
			Text:       w.Text,
			Rating:     w.Rating,
			Language:   w.Language,
			Verified:   w.IsVerified,
			CreatedAt:  w.CreatedAt,
		})
	}
	return reviews, nil
}

// SendReply posts a public reply to a review, identified by its source id.
func (c *Client) SendReply(ctx context.Context, sourceID, message string) error {
	tok, err := c.token(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}

	endpoint := fmt.Sprintf("%s/private/reviews/%s/reply", c.baseURL, sourceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("build reply request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("send reply: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// GetBusinessUnit fetches business-unit metadata, used by the config check.
func (c *Client) GetBusinessUnit(ctx context.Context) (*BusinessUnit, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/business-units/%s", c.baseURL, c.cfg.BusinessUnitID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build business unit request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch business unit: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch business unit: unexpected status %d", resp.StatusCode)
	}

	var bu BusinessUnit
	if err := json.NewDecoder(resp.Body).Decode(&bu); err != nil {
		return nil, fmt.Errorf("decode business unit response: %w", err)
	}
	return &bu, nil
}
