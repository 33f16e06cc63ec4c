package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Store backends
const (
	BackendSanity   = "sanity"
	BackendPostgres = "postgres"
	BackendBluesky  = "bluesky"
)

// SiteConfig holds the page and server settings
type SiteConfig struct {
	Title       string        `toml:"title"`
	Tagline     string        `toml:"tagline"`
	Description string        `toml:"description"`
	Port        int           `toml:"port"`
	Timezone    string        `toml:"timezone,omitempty"` // Empty uses the process local zone
	Revalidate  time.Duration `toml:"revalidate"`         // How long a rendered page may be served from cache
	// Comma separated origins allowed to call the API from a browser
	AllowOrigins string `toml:"allow_origins,omitempty"`
	// Public URL of the page, e.g. https://live.example.com. Used for RSS and Atom links.
	Hostname string `toml:"hostname,omitempty"`
}

// SanityConfig addresses a Sanity dataset
type SanityConfig struct {
	ProjectId  string `toml:"project_id"`
	Dataset    string `toml:"dataset"`
	ApiVersion string `toml:"api_version"`
	Token      string `toml:"token,omitempty"`
	UseCdn     bool   `toml:"use_cdn"` // Only used for page renders, live reads always bypass the CDN
	DocType    string `toml:"doc_type"`
}

// PostgresConfig addresses the updates database
type PostgresConfig struct {
	Host                 string        `toml:"host"`
	Port                 int           `toml:"port"`
	User                 string        `toml:"user"`
	Password             string        `toml:"password,omitempty"`
	Name                 string        `toml:"name"`
	SSLMode              string        `toml:"sslmode"`
	MinReconnectInterval time.Duration `toml:"min_reconnect_interval"`
	MaxReconnectInterval time.Duration `toml:"max_reconnect_interval"`
}

// BlueskyConfig selects the account whose posts make up the feed
type BlueskyConfig struct {
	Actor          string   `toml:"actor"` // Handle or DID
	AppViewHost    string   `toml:"appview_host"`
	PDSHost        string   `toml:"pds_host"`
	Identifier     string   `toml:"identifier,omitempty"`
	Password       string   `toml:"password,omitempty"`
	JetstreamHosts []string `toml:"jetstream_hosts"`
	UserAgent      string   `toml:"user_agent"`
}

// Config is built once at startup and passed around by value
type Config struct {
	Backend  string         `toml:"backend"`
	Site     SiteConfig     `toml:"site"`
	Sanity   SanityConfig   `toml:"sanity"`
	Postgres PostgresConfig `toml:"postgres"`
	Bluesky  BlueskyConfig  `toml:"bluesky"`
}

// Default returns the configuration used when nothing else is set
func Default() Config {
	return Config{
		Backend: BackendSanity,
		Site: SiteConfig{
			Title:       "Air Sports Live",
			Tagline:     "Real-time updates from the sky",
			Description: "Live updates from the air sports world - paragliding, skydiving, and more",
			Port:        3000,
			Revalidate:  10 * time.Second,
		},
		Sanity: SanityConfig{
			Dataset:    "production",
			ApiVersion: "2024-01-01",
			UseCdn:     true,
			DocType:    "updatePost",
		},
		Postgres: PostgresConfig{
			Host:                 "localhost",
			Port:                 5432,
			User:                 "airlive",
			Name:                 "airlive",
			SSLMode:              "disable",
			MinReconnectInterval: 10 * time.Second,
			MaxReconnectInterval: time.Minute,
		},
		Bluesky: BlueskyConfig{
			AppViewHost: "https://public.api.bsky.app",
			PDSHost:     "https://bsky.social",
			JetstreamHosts: []string{
				"wss://jetstream1.us-east.bsky.network",
				"wss://jetstream2.us-east.bsky.network",
				"wss://jetstream1.us-west.bsky.network",
				"wss://jetstream2.us-west.bsky.network",
			},
			UserAgent: "airlive/1.0",
		},
	}
}

// LoadConfig reads a TOML file on top of the defaults
func LoadConfig(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("error reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// Write stores cfg as TOML at path
func Write(path string, cfg Config) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("error creating config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// Validate checks that the selected backend has what it needs
func (c Config) Validate() error {
	var errs []error

	if c.Site.Revalidate < 0 {
		errs = append(errs, errors.New("site.revalidate must not be negative"))
	}

	switch c.Backend {
	case BackendSanity:
		if c.Sanity.ProjectId == "" {
			errs = append(errs, errors.New("sanity.project_id is required"))
		}
		if c.Sanity.Dataset == "" {
			errs = append(errs, errors.New("sanity.dataset is required"))
		}
		if c.Sanity.ApiVersion == "" {
			errs = append(errs, errors.New("sanity.api_version is required"))
		}
	case BackendPostgres:
		if c.Postgres.Host == "" || c.Postgres.Name == "" {
			errs = append(errs, errors.New("postgres.host and postgres.name are required"))
		}
	case BackendBluesky:
		if c.Bluesky.Actor == "" {
			errs = append(errs, errors.New("bluesky.actor is required"))
		}
		if len(c.Bluesky.JetstreamHosts) == 0 {
			errs = append(errs, errors.New("bluesky.jetstream_hosts needs at least one host"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}

	return errors.Join(errs...)
}
