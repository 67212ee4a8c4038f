package confluence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"minutes/internal/services"
)

// Config captures the Confluence Server connection settings.
type Config struct {
	BaseURL      string
	Token        string
	SpaceKey     string
	ParentPageID string
	Timeout      time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
}

// Client talks to the Confluence REST API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	policy     services.RetryPolicy
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithSleeper replaces the pause between attempts (for testing).
func WithSleeper(sleep services.Sleeper) Option {
	return func(c *Client) {
		c.policy.Sleep = sleep
	}
}

// NewClient validates cfg and constructs a client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Token = strings.TrimSpace(cfg.Token)
	cfg.SpaceKey = strings.TrimSpace(cfg.SpaceKey)
	cfg.ParentPageID = strings.TrimSpace(cfg.ParentPageID)
	if cfg.BaseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "publication", "confluence", "base url required", nil)
	}
	if parsed, err := url.Parse(cfg.BaseURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, services.Wrap(services.ErrConfiguration, "publication", "confluence",
			fmt.Sprintf("invalid base url %q", cfg.BaseURL), err)
	}
	if cfg.Token == "" {
		return nil, services.Wrap(services.ErrConfiguration, "publication", "confluence", "api token required", nil)
	}
	if cfg.SpaceKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "publication", "confluence", "space key required", nil)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		policy:     services.RetryPolicy{MaxRetries: cfg.MaxRetries, Pause: cfg.RetryDelay},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// SpaceKey returns the configured target space.
func (c *Client) SpaceKey() string { return c.cfg.SpaceKey }

// ParentPageID returns the configured parent page.
func (c *Client) ParentPageID() string { return c.cfg.ParentPageID }

// Space is the subset of a space resource the service reads.
type Space struct {
	ID   int64  `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Page is the subset of a content resource the service reads.
type Page struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Space   *Space `json:"space,omitempty"`
	Version struct {
		Number int `json:"number"`
	} `json:"version"`
	Ancestors []struct {
		ID string `json:"id"`
	} `json:"ancestors,omitempty"`
	Links struct {
		WebUI string `json:"webui"`
		Base  string `json:"base"`
	} `json:"_links"`
}

// URL resolves the page's web link against the configured base URL.
func (c *Client) URL(page *Page) string {
	if page == nil || page.Links.WebUI == "" {
		return ""
	}
	return c.cfg.BaseURL + page.Links.WebUI
}

// GetSpace fetches a space by key; an empty key means the configured space.
func (c *Client) GetSpace(ctx context.Context, key string) (*Space, error) {
	if key == "" {
		key = c.cfg.SpaceKey
	}
	var space Space
	if err := c.do(ctx, http.MethodGet, "/rest/api/space/"+url.PathEscape(key), nil, nil, &space); err != nil {
		return nil, err
	}
	return &space, nil
}

// GetPage fetches a page with its space, version and ancestors.
func (c *Client) GetPage(ctx context.Context, id string) (*Page, error) {
	query := url.Values{"expand": {"space,version,ancestors"}}
	var page Page
	if err := c.do(ctx, http.MethodGet, "/rest/api/content/"+url.PathEscape(id), query, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// FindPage looks a page up by exact title in the configured space. It
// returns nil without error when no page matches.
func (c *Client) FindPage(ctx context.Context, title string) (*Page, error) {
	query := url.Values{
		"spaceKey": {c.cfg.SpaceKey},
		"title":    {title},
		"expand":   {"version"},
	}
	var result struct {
		Results []Page `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/rest/api/content", query, nil, &result); err != nil {
		return nil, err
	}
	if len(result.Results) == 0 {
		return nil, nil
	}
	return &result.Results[0], nil
}

type storageBody struct {
	Storage struct {
		Value          string `json:"value"`
		Representation string `json:"representation"`
	} `json:"storage"`
}

type pageRequest struct {
	ID        string           `json:"id,omitempty"`
	Type      string           `json:"type"`
	Title     string           `json:"title"`
	Space     map[string]any   `json:"space"`
	Body      storageBody      `json:"body"`
	Ancestors []map[string]any `json:"ancestors,omitempty"`
	Version   *struct {
		Number int `json:"number"`
	} `json:"version,omitempty"`
}

func newPageRequest(spaceKey, title, storage string) pageRequest {
	req := pageRequest{
		Type:  "page",
		Title: title,
		Space: map[string]any{"key": spaceKey},
	}
	req.Body.Storage.Value = storage
	req.Body.Storage.Representation = "storage"
	return req
}

// CreatePage creates a page under parentID (the configured parent when
// empty) in the configured space.
func (c *Client) CreatePage(ctx context.Context, title, storage, parentID string) (*Page, error) {
	req := newPageRequest(c.cfg.SpaceKey, title, storage)
	if parentID == "" {
		parentID = c.cfg.ParentPageID
	}
	if parentID != "" {
		req.Ancestors = []map[string]any{{"id": parentID}}
	}
	var page Page
	if err := c.do(ctx, http.MethodPost, "/rest/api/content", nil, req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// UpdatePage replaces a page body. currentVersion is the version read from
// the server; the update is sent as currentVersion+1.
func (c *Client) UpdatePage(ctx context.Context, id, title, storage string, currentVersion int) (*Page, error) {
	req := newPageRequest(c.cfg.SpaceKey, title, storage)
	req.ID = id
	req.Version = &struct {
		Number int `json:"number"`
	}{Number: currentVersion + 1}
	var page Page
	if err := c.do(ctx, http.MethodPut, "/rest/api/content/"+url.PathEscape(id), nil, req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// DeletePage removes a page.
func (c *Client) DeletePage(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/rest/api/content/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	var encoded []byte
	if payload != nil {
		var err error
		if encoded, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("confluence: encode %s %s: %w", method, path, err)
		}
	}
	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	_, err := c.policy.Do(ctx, func(int) error {
		return c.once(ctx, method, path, endpoint, encoded, out)
	})
	return err
}

func (c *Client) once(ctx context.Context, method, path, endpoint string, encoded []byte, out any) error {
	var body io.Reader
	if encoded != nil {
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("confluence: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")
	if encoded != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &APIError{Kind: ErrNetwork, Method: method, Path: path, Cause: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{Kind: ErrNetwork, Method: method, Path: path, Cause: err}
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return &APIError{
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Body:       strings.TrimSpace(string(data)),
		}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("confluence: decode %s %s: %w", method, path, errors.Join(ErrServer, err))
	}
	return nil
}
