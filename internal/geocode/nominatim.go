package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/roadwatch/roadwatch/internal/geo"
)

const defaultNominatimTimeout = 10 * time.Second

// NominatimConfig configures the Nominatim client.
type NominatimConfig struct {
	// BaseURL of the Nominatim instance, without trailing slash.
	BaseURL string
	// UserAgent identifies this deployment. Nominatim's usage policy
	// requires a real value; the server refuses default agents.
	UserAgent string
	// Timeout bounds each request. Defaults to 10s.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Nominatim is a Geocoder backed by a Nominatim HTTP endpoint.
type Nominatim struct {
	base      string
	userAgent string
	client    *http.Client
	log       *zap.Logger
}

// NewNominatim creates a Nominatim client.
func NewNominatim(cfg NominatimConfig) (*Nominatim, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("nominatim: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("nominatim: invalid base URL: %w", err)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("nominatim: user agent is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultNominatimTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Nominatim{
		base:      cfg.BaseURL,
		userAgent: cfg.UserAgent,
		client:    &http.Client{Timeout: timeout},
		log:       log.Named("nominatim"),
	}, nil
}

// nominatimPlace is the jsonv2 response shape. Coordinates arrive as
// strings.
type nominatimPlace struct {
	PlaceID     int64   `json:"place_id"`
	DisplayName string  `json:"display_name"`
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	Category    string  `json:"category"`
	Type        string  `json:"type"`
	Importance  float64 `json:"importance"`
	Error       string  `json:"error"`
}

func (p nominatimPlace) toPlace() (Place, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return Place{}, fmt.Errorf("parsing lat %q: %w", p.Lat, err)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return Place{}, fmt.Errorf("parsing lon %q: %w", p.Lon, err)
	}
	return Place{
		Label:      p.DisplayName,
		At:         geo.New(lon, lat),
		Category:   p.Category,
		Kind:       p.Type,
		Importance: p.Importance,
	}, nil
}

// Reverse implements Geocoder.
func (n *Nominatim) Reverse(ctx context.Context, c geo.Coordinate) (Place, error) {
	if !c.Valid() {
		return Place{}, fmt.Errorf("nominatim: invalid coordinate %s", c)
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(c.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(c.Lon, 'f', -1, 64))

	var p nominatimPlace
	if err := n.get(ctx, "/reverse", q, &p); err != nil {
		return Place{}, err
	}
	// Nominatim reports "unable to geocode" as a 200 with an error
	// field.
	if p.Error != "" || p.DisplayName == "" {
		return Place{}, ErrNoResult
	}
	place, err := p.toPlace()
	if err != nil {
		return Place{}, fmt.Errorf("nominatim reverse: %w", err)
	}
	return place, nil
}

// Search implements Geocoder.
func (n *Nominatim) Search(ctx context.Context, query string, limit int) ([]Place, error) {
	if limit <= 0 {
		limit = 5
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))

	var raw []nominatimPlace
	if err := n.get(ctx, "/search", q, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrNoResult
	}

	places := make([]Place, 0, len(raw))
	for _, r := range raw {
		p, err := r.toPlace()
		if err != nil {
			n.log.Warn("skipping malformed search result",
				zap.Int64("place_id", r.PlaceID), zap.Error(err))
			continue
		}
		places = append(places, p)
	}
	if len(places) == 0 {
		return nil, ErrNoResult
	}
	return places, nil
}

func (n *Nominatim) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.base+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("building nominatim request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("nominatim request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nominatim: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding nominatim response: %w", err)
	}
	return nil
}
