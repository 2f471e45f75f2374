// Package roadclient is a typed HTTP client for the RoadWatch API.
// It covers the read side and geocoding passthrough; report creation
// goes through the wizard UI, which needs a browser session anyway.
package roadclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to one RoadWatch server.
type Client struct {
	base      string
	http      *http.Client
	userAgent string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("roadclient: invalid base URL %q", baseURL)
	}
	c := &Client{
		base:      strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 30 * time.Second},
		userAgent: "roadclient/1",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError is a non-2xx response, decoded from the server's problem
// document.
type APIError struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("roadwatch: %s (status %d)", e.Detail, e.Status)
	}
	if e.Title != "" {
		return fmt.Sprintf("roadwatch: %s (status %d)", e.Title, e.Status)
	}
	return fmt.Sprintf("roadwatch: status %d", e.Status)
}

// Health is the /health response.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Info describes the server and its enabled features.
type Info struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	DataDir  string   `json:"data_dir"`
	Stats    bool     `json:"stats"`
	Features []string `json:"features"`
}

// User is the reporting account attached to an entry.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// CrackTypeStat aggregates detections of one crack class.
type CrackTypeStat struct {
	Count         int     `json:"count"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// DetectionInfo summarizes the automated photo analysis of an entry.
type DetectionInfo struct {
	TotalCracks int                      `json:"total_cracks"`
	CrackTypes  map[string]CrackTypeStat `json:"crack_types,omitempty"`
	Status      string                   `json:"status"`
}

// Entry is a road defect report. Coordinates are [lon, lat].
type Entry struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	Description        string         `json:"description,omitempty"`
	Location           string         `json:"location,omitempty"`
	Coordinates        [2]float64     `json:"coordinates"`
	Severity           string         `json:"severity"`
	Type               string         `json:"type,omitempty"`
	ImageURL           string         `json:"image_url,omitempty"`
	ClassifiedImageURL string         `json:"classified_image_url,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          *time.Time     `json:"updated_at,omitempty"`
	User               User           `json:"user"`
	DetectionInfo      *DetectionInfo `json:"detection_info,omitempty"`
}

// EntriesPage is one page of the entry collection, newest first.
type EntriesPage struct {
	Total  int     `json:"total"`
	Offset int     `json:"offset"`
	Limit  int     `json:"limit"`
	Data   []Entry `json:"data"`
}

// ListOptions narrow and page ListEntries. Zero values mean server
// defaults.
type ListOptions struct {
	Severity string
	Type     string
	UserID   string
	Offset   int
	Limit    int
}

// Stats are the dashboard aggregates.
type Stats struct {
	TotalEntries       int            `json:"total_entries"`
	BySeverity         map[string]int `json:"by_severity"`
	ByType             map[string]int `json:"by_type"`
	TotalCracks        int            `json:"total_cracks"`
	DetectionCompleted int            `json:"detection_completed"`
	NewestEntry        *time.Time     `json:"newest_entry,omitempty"`
}

// Place is a geocoding result. Coordinates are [lon, lat].
type Place struct {
	Label       string     `json:"label"`
	Coordinates [2]float64 `json:"coordinates"`
	Category    string     `json:"category,omitempty"`
	Kind        string     `json:"kind,omitempty"`
	Importance  float64    `json:"importance,omitempty"`
}

// Health checks the server.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.get(ctx, "/health", nil, &out)
	return out, err
}

// Info fetches the service description.
func (c *Client) Info(ctx context.Context) (Info, error) {
	var out Info
	err := c.get(ctx, "/api/v1/info", nil, &out)
	return out, err
}

// ListEntries fetches one page of reports.
func (c *Client) ListEntries(ctx context.Context, opts ListOptions) (EntriesPage, error) {
	q := url.Values{}
	if opts.Severity != "" {
		q.Set("severity", opts.Severity)
	}
	if opts.Type != "" {
		q.Set("type", opts.Type)
	}
	if opts.UserID != "" {
		q.Set("user_id", opts.UserID)
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	var out EntriesPage
	err := c.get(ctx, "/api/v1/entries", q, &out)
	return out, err
}

// Entry fetches one report by ID.
func (c *Client) Entry(ctx context.Context, id string) (Entry, error) {
	var out Entry
	err := c.get(ctx, "/api/v1/entries/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Stats fetches the dashboard aggregates. Servers running without the
// analytics mirror answer 503.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := c.get(ctx, "/api/v1/stats", nil, &out)
	return out, err
}

// SearchPlaces forward-geocodes a free-text query. No match is an
// empty slice, not an error.
func (c *Client) SearchPlaces(ctx context.Context, query string, limit int) ([]Place, error) {
	q := url.Values{"q": {query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out struct {
		Places []Place `json:"places"`
	}
	if err := c.get(ctx, "/api/v1/geocode/search", q, &out); err != nil {
		return nil, err
	}
	return out.Places, nil
}

// ReverseGeocode resolves a coordinate to the nearest address.
func (c *Client) ReverseGeocode(ctx context.Context, lon, lat float64) (Place, error) {
	q := url.Values{
		"lon": {strconv.FormatFloat(lon, 'f', -1, 64)},
		"lat": {strconv.FormatFloat(lat, 'f', -1, 64)},
	}
	var out Place
	err := c.get(ctx, "/api/v1/geocode/reverse", q, &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("roadclient: building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("roadclient: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("roadclient: decoding %s: %w", path, err)
	}
	return nil
}
