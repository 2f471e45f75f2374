package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roadwatch/roadwatch/internal/geo"
)

const defaultTimeout = 30 * time.Second

// Config configures a Client.
type Config struct {
	// BaseURL of the backend, e.g. "https://api.roadwatch.example".
	BaseURL string
	// Timeout bounds each request. Defaults to 30s; uploads share it.
	Timeout   time.Duration
	UserAgent string
	Logger    *zap.Logger
}

// Client talks to the entries backend. Methods taking a token send it
// as a bearer credential; an empty token sends none.
type Client struct {
	base      string
	userAgent string
	http      *http.Client
	log       *zap.Logger
}

// New creates a backend client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend: base URL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend: invalid base URL %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "roadwatch/1.0"
	}
	return &Client{
		base:      strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: ua,
		http:      &http.Client{Timeout: timeout},
		log:       log.Named("backend"),
	}, nil
}

// CreateEntry is the payload for a new report. Image holds the photo
// bytes and is required.
type CreateEntry struct {
	Title       string
	Description string
	Location    string
	Coordinates geo.Coordinate
	Severity    string
	ImageName   string
	Image       io.Reader
}

// UpdateEntry carries partial changes. Nil fields are left untouched.
type UpdateEntry struct {
	Title       *string         `json:"title,omitempty"`
	Description *string         `json:"description,omitempty"`
	Location    *string         `json:"location,omitempty"`
	Coordinates *geo.Coordinate `json:"coordinates,omitempty"`
	Severity    *string         `json:"severity,omitempty"`
	Type        *string         `json:"type,omitempty"`
}

// ListEntries fetches entries matching the filter.
func (c *Client) ListEntries(ctx context.Context, f EntryFilter, token string) ([]Entry, error) {
	q := url.Values{}
	if f.UserID != "" {
		q.Set("user_id", f.UserID)
	}
	if f.Severity != "" {
		q.Set("severity", f.Severity)
	}
	if f.Type != "" {
		q.Set("type", f.Type)
	}
	path := "/api/entries"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var entries []Entry
	if err := c.do(ctx, http.MethodGet, path, nil, "", token, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetEntry fetches one entry by ID.
func (c *Client) GetEntry(ctx context.Context, id string) (Entry, error) {
	var e Entry
	if err := c.do(ctx, http.MethodGet, "/api/entries/"+url.PathEscape(id), nil, "", "", &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// CreateEntry uploads a new report as multipart form data and returns
// the stored entry.
func (c *Client) CreateEntry(ctx context.Context, token string, in CreateEntry) (Entry, error) {
	if in.Image == nil {
		return Entry{}, fmt.Errorf("backend: entry image is required")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	coords, err := json.Marshal(in.Coordinates)
	if err != nil {
		return Entry{}, fmt.Errorf("encoding coordinates: %w", err)
	}
	fields := map[string]string{
		"title":       in.Title,
		"description": in.Description,
		"location":    in.Location,
		"coordinates": string(coords),
		"severity":    in.Severity,
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return Entry{}, fmt.Errorf("writing form field %s: %w", name, err)
		}
	}

	name := in.ImageName
	if name == "" {
		name = "photo.jpg"
	}
	fw, err := mw.CreateFormFile("image", name)
	if err != nil {
		return Entry{}, fmt.Errorf("creating image part: %w", err)
	}
	if _, err := io.Copy(fw, in.Image); err != nil {
		return Entry{}, fmt.Errorf("copying image data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Entry{}, fmt.Errorf("finalizing multipart body: %w", err)
	}

	var e Entry
	if err := c.do(ctx, http.MethodPost, "/api/entries", &buf, mw.FormDataContentType(), token, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// UpdateEntry applies partial changes to an entry.
func (c *Client) UpdateEntry(ctx context.Context, token, id string, in UpdateEntry) (Entry, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return Entry{}, fmt.Errorf("encoding update: %w", err)
	}

	var e Entry
	if err := c.do(ctx, http.MethodPut, "/api/entries/"+url.PathEscape(id),
		bytes.NewReader(body), "application/json", token, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// DeleteEntry removes an entry.
func (c *Client) DeleteEntry(ctx context.Context, token, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/entries/"+url.PathEscape(id), nil, "", token, nil)
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return Session{}, fmt.Errorf("encoding credentials: %w", err)
	}

	var s Session
	if err := c.do(ctx, http.MethodPost, "/api/auth/login",
		bytes.NewReader(body), "application/json", "", &s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Register creates an account and returns its first session.
func (c *Client) Register(ctx context.Context, name, email, password string) (Session, error) {
	body, err := json.Marshal(map[string]string{"name": name, "email": email, "password": password})
	if err != nil {
		return Session{}, fmt.Errorf("encoding registration: %w", err)
	}

	var s Session
	if err := c.do(ctx, http.MethodPost, "/api/auth/register",
		bytes.NewReader(body), "application/json", "", &s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Me returns the account behind a token.
func (c *Client) Me(ctx context.Context, token string) (User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, "", token, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// do executes one request. Non-2xx responses become *APIError with
// the backend's message when one can be extracted.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.apiError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

// apiError extracts a message from an error body. The backend uses
// {"detail": ...}; {"error": ...} is accepted for proxies in front of
// it.
func (c *Client) apiError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if err != nil {
		return apiErr
	}
	var payload struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		switch {
		case len(payload.Detail) > 0:
			var s string
			if json.Unmarshal(payload.Detail, &s) == nil {
				apiErr.Message = s
			} else {
				apiErr.Message = string(payload.Detail)
			}
		case payload.Error != "":
			apiErr.Message = payload.Error
		}
	}
	if apiErr.Message == "" && len(data) > 0 && resp.StatusCode != http.StatusNotFound {
		c.log.Debug("unparsed backend error body",
			zap.Int("status", resp.StatusCode), zap.Int("bytes", len(data)))
	}
	return apiErr
}
