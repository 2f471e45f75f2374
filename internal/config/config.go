// Package config loads the application configuration from an optional
// YAML file with ROADWATCH_-prefixed environment overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/kkyr/fig"
)

const configEnv = "ROADWATCH"

// Config is the full application configuration.
type Config struct {
	Server struct {
		Host string `fig:"host" default:"0.0.0.0"`
		Port int    `fig:"port" default:"8888"`
	} `fig:"server"`

	// DataDir holds snapshots, staged photos, and the local database.
	DataDir string `fig:"data_dir" default:"./data"`
	// WebDir optionally overrides the built-in HTML fragments.
	WebDir string `fig:"web_dir"`
	Debug  bool   `fig:"debug"`

	Backend struct {
		URL     string        `fig:"url"`
		Timeout time.Duration `fig:"timeout" default:"30s"`
	} `fig:"backend"`

	Geocoder struct {
		URL       string        `fig:"url" default:"https://nominatim.openstreetmap.org"`
		UserAgent string        `fig:"user_agent" default:"roadwatch/1.0"`
		Timeout   time.Duration `fig:"timeout" default:"10s"`
		// Quiet is the reverse-geocode debounce after map movement.
		Quiet time.Duration `fig:"quiet" default:"600ms"`
		// SearchQuiet is the keystroke debounce for place search.
		SearchQuiet time.Duration `fig:"search_quiet" default:"400ms"`
		HitTTL      time.Duration `fig:"hit_ttl" default:"15m"`
		MissTTL     time.Duration `fig:"miss_ttl" default:"1m"`
	} `fig:"geocoder"`

	Map struct {
		// StyleURL and Token identify the basemap service. The pages
		// load StyleURL with Token attached as its key parameter.
		StyleURL string `fig:"style_url"`
		Token    string `fig:"token"`
		// Default center used before anything better is known.
		Lon  float64 `fig:"lon" default:"120.9842"`
		Lat  float64 `fig:"lat" default:"14.5995"`
		Zoom float64 `fig:"zoom" default:"15"`
		// EpsilonMeters suppresses idle center jitter.
		EpsilonMeters float64 `fig:"epsilon_meters" default:"2"`
		// MinEmitInterval rate-limits center updates during a drag.
		MinEmitInterval time.Duration `fig:"min_emit_interval" default:"250ms"`
	} `fig:"map"`

	Entries struct {
		// RefreshInterval drives the background cache refresh.
		RefreshInterval time.Duration `fig:"refresh_interval" default:"1m"`
	} `fig:"entries"`

	Sessions struct {
		TTL time.Duration `fig:"ttl" default:"30m"`
	} `fig:"sessions"`

	Tiles struct {
		MinZoom int `fig:"min_zoom" default:"5"`
		MaxZoom int `fig:"max_zoom" default:"16"`
	} `fig:"tiles"`
}

// Load reads the config file at path (directory + file name) and
// applies environment overrides.
func Load(path, file string) (*Config, error) {
	conf := new(Config)
	if _, err := os.Stat(filepath.Join(path, file)); err != nil {
		return conf, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load config: %w", err)
	}
	return conf, conf.Validate()
}

// LoadDefault builds a config from defaults and environment variables
// alone, for deployments that configure everything via ROADWATCH_*.
func LoadDefault() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load config: %w", err)
	}
	return conf, conf.Validate()
}

// Validate checks cross-field requirements that tags cannot express.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required (set ROADWATCH_BACKEND_URL)")
	}
	if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.url %q is not a valid URL", c.Backend.URL)
	}
	if c.Geocoder.URL == "" {
		return fmt.Errorf("geocoder.url must not be empty")
	}
	if c.Map.StyleURL == "" {
		return fmt.Errorf("map.style_url is required (set ROADWATCH_MAP_STYLE_URL)")
	}
	if u, err := url.Parse(c.Map.StyleURL); err != nil || u.Scheme == "" {
		return fmt.Errorf("map.style_url %q is not a valid URL", c.Map.StyleURL)
	}
	if c.Map.Token == "" {
		return fmt.Errorf("map.token is required (set ROADWATCH_MAP_TOKEN)")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Map.Lon < -180 || c.Map.Lon > 180 || c.Map.Lat < -90 || c.Map.Lat > 90 {
		return fmt.Errorf("map center (%f, %f) out of range", c.Map.Lon, c.Map.Lat)
	}
	if c.Tiles.MinZoom < 0 || c.Tiles.MaxZoom > 22 || c.Tiles.MinZoom > c.Tiles.MaxZoom {
		return fmt.Errorf("tile zoom range %d..%d invalid", c.Tiles.MinZoom, c.Tiles.MaxZoom)
	}
	return nil
}

// MapStyle returns the style URL with the service token attached, the
// form the browser map loads directly.
func (c *Config) MapStyle() string {
	u, err := url.Parse(c.Map.StyleURL)
	if err != nil {
		return c.Map.StyleURL
	}
	q := u.Query()
	q.Set("key", c.Map.Token)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
