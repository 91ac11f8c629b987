// Package config loads network credentials for polyglot.
//
// Values come from a YAML file (default $XDG_CONFIG_HOME/polyglot/config.yaml)
// and are overridden field by field by POLYGLOT_* environment variables.
// A .env file may seed the environment without replacing variables that are
// already set.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blacktop/polyglot/internal/publisher"
	"github.com/blacktop/polyglot/internal/xpost"
	"github.com/blacktop/polyglot/internal/xpost/bluesky"
	"github.com/blacktop/polyglot/internal/xpost/mastodon"
	"github.com/blacktop/polyglot/internal/xpost/twitter"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const (
	// Dir is the directory under the user config dir holding polyglot files.
	Dir = "polyglot"
	// File is the name of the configuration file.
	File = "config.yaml"

	// EnvConfig overrides the configuration file location.
	EnvConfig = "POLYGLOT_CONFIG"
)

// Environment overrides.
const (
	EnvBlueskyIdentifier        = "POLYGLOT_BLUESKY_IDENTIFIER"
	EnvBlueskyPassword          = "POLYGLOT_BLUESKY_PASSWORD"
	EnvBlueskyService           = "POLYGLOT_BLUESKY_SERVICE"
	EnvMastodonInstanceURL      = "POLYGLOT_MASTODON_INSTANCE_URL"
	EnvMastodonAccessToken      = "POLYGLOT_MASTODON_ACCESS_TOKEN"
	EnvTwitterConsumerKey       = "POLYGLOT_TWITTER_CONSUMER_KEY"
	EnvTwitterConsumerSecret    = "POLYGLOT_TWITTER_CONSUMER_SECRET"
	EnvTwitterAccessToken       = "POLYGLOT_TWITTER_ACCESS_TOKEN"
	EnvTwitterAccessTokenSecret = "POLYGLOT_TWITTER_ACCESS_TOKEN_SECRET"
	EnvDefaultVisibility        = "POLYGLOT_DEFAULT_VISIBILITY"
)

// Config is the on-disk configuration.
type Config struct {
	Bluesky  *BlueskyConfig  `yaml:"bluesky,omitempty"`
	Mastodon *MastodonConfig `yaml:"mastodon,omitempty"`
	Twitter  *TwitterConfig  `yaml:"twitter,omitempty"`

	// DefaultVisibility applies to networks that support it when a post
	// names none (public, unlisted, private, direct).
	DefaultVisibility string `yaml:"default_visibility,omitempty"`

	// DefaultNetworks restricts which networks are used when the caller
	// names none. Empty means every enabled network.
	DefaultNetworks []string `yaml:"default_networks,omitempty"`
}

// BlueskyConfig holds AT Protocol credentials.
type BlueskyConfig struct {
	Enabled    *bool  `yaml:"enabled,omitempty"`
	Identifier string `yaml:"identifier,omitempty"`
	Password   string `yaml:"password,omitempty"`
	Service    string `yaml:"service,omitempty"`
}

// MastodonConfig holds Mastodon instance credentials.
type MastodonConfig struct {
	Enabled      *bool  `yaml:"enabled,omitempty"`
	InstanceURL  string `yaml:"instance_url,omitempty"`
	AccessToken  string `yaml:"access_token,omitempty"`
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`
}

// TwitterConfig holds OAuth1 user-context credentials for X.
type TwitterConfig struct {
	Enabled           *bool  `yaml:"enabled,omitempty"`
	ConsumerKey       string `yaml:"consumer_key,omitempty"`
	ConsumerSecret    string `yaml:"consumer_secret,omitempty"`
	AccessToken       string `yaml:"access_token,omitempty"`
	AccessTokenSecret string `yaml:"access_token_secret,omitempty"`
}

// DefaultPath returns $XDG_CONFIG_HOME/polyglot/config.yaml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return filepath.Join(dir, Dir, File), nil
}

// ResolvePath picks the configuration file: explicit, then POLYGLOT_CONFIG,
// then DefaultPath.
func ResolvePath(explicit string) (string, error) {
	if p := strings.TrimSpace(explicit); p != "" {
		return p, nil
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfig)); p != "" {
		return p, nil
	}
	return DefaultPath()
}

// LoadDotEnv loads each .env file that exists. Variables already present in
// the environment win.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		_ = godotenv.Load(path)
	}
}

// Load reads path, applies environment overrides and validates the result.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read parses path as is, without environment overrides or validation.
// A missing file yields an empty Config.
func Read(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, readable only by the current user.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("failed to restrict config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v, ok := env(EnvBlueskyIdentifier); ok {
		c.bluesky().Identifier = v
	}
	if v, ok := env(EnvBlueskyPassword); ok {
		c.bluesky().Password = v
	}
	if v, ok := env(EnvBlueskyService); ok {
		c.bluesky().Service = v
	}
	if v, ok := env(EnvMastodonInstanceURL); ok {
		c.mastodon().InstanceURL = v
	}
	if v, ok := env(EnvMastodonAccessToken); ok {
		c.mastodon().AccessToken = v
	}
	if v, ok := env(EnvTwitterConsumerKey); ok {
		c.twitter().ConsumerKey = v
	}
	if v, ok := env(EnvTwitterConsumerSecret); ok {
		c.twitter().ConsumerSecret = v
	}
	if v, ok := env(EnvTwitterAccessToken); ok {
		c.twitter().AccessToken = v
	}
	if v, ok := env(EnvTwitterAccessTokenSecret); ok {
		c.twitter().AccessTokenSecret = v
	}
	if v, ok := env(EnvDefaultVisibility); ok {
		c.DefaultVisibility = v
	}
}

func env(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

func (c *Config) bluesky() *BlueskyConfig {
	if c.Bluesky == nil {
		c.Bluesky = &BlueskyConfig{}
	}
	return c.Bluesky
}

func (c *Config) mastodon() *MastodonConfig {
	if c.Mastodon == nil {
		c.Mastodon = &MastodonConfig{}
	}
	return c.Mastodon
}

func (c *Config) twitter() *TwitterConfig {
	if c.Twitter == nil {
		c.Twitter = &TwitterConfig{}
	}
	return c.Twitter
}

// Validate reports every enabled network with missing fields along with an
// unknown default visibility or network name.
func (c *Config) Validate() error {
	var errs []error
	if c.Bluesky.enabled() {
		errs = append(errs, missing(xpost.Bluesky,
			field{"identifier", c.Bluesky.Identifier},
			field{"password", c.Bluesky.Password},
		))
	}
	if c.Mastodon.enabled() {
		errs = append(errs, missing(xpost.Mastodon,
			field{"instance_url", c.Mastodon.InstanceURL},
			field{"access_token", c.Mastodon.AccessToken},
		))
	}
	if c.Twitter.enabled() {
		errs = append(errs, missing(xpost.Twitter,
			field{"consumer_key", c.Twitter.ConsumerKey},
			field{"consumer_secret", c.Twitter.ConsumerSecret},
			field{"access_token", c.Twitter.AccessToken},
			field{"access_token_secret", c.Twitter.AccessTokenSecret},
		))
	}
	if _, err := xpost.ParseVisibility(c.DefaultVisibility); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Defaults(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type field struct {
	name  string
	value string
}

func missing(network xpost.Network, fields ...field) error {
	names := lo.FilterMap(fields, func(f field, _ int) (string, bool) {
		return f.name, strings.TrimSpace(f.value) == ""
	})
	if len(names) == 0 {
		return nil
	}
	return xpost.MissingConfigError{Network: network, Fields: names}
}

func (b *BlueskyConfig) enabled() bool  { return b != nil && (b.Enabled == nil || *b.Enabled) }
func (m *MastodonConfig) enabled() bool { return m != nil && (m.Enabled == nil || *m.Enabled) }
func (t *TwitterConfig) enabled() bool  { return t != nil && (t.Enabled == nil || *t.Enabled) }

// Networks returns the enabled networks, sorted.
func (c *Config) Networks() []xpost.Network {
	var out []xpost.Network
	if c.Bluesky.enabled() {
		out = append(out, xpost.Bluesky)
	}
	if c.Mastodon.enabled() {
		out = append(out, xpost.Mastodon)
	}
	if c.Twitter.enabled() {
		out = append(out, xpost.Twitter)
	}
	return out
}

// Defaults parses DefaultNetworks. An empty list yields nil, which callers
// treat as every registered network.
func (c *Config) Defaults() ([]xpost.Network, error) {
	var out []xpost.Network
	for _, raw := range c.DefaultNetworks {
		n, err := xpost.ParseNetwork(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	out = lo.Uniq(out)
	xpost.SortNetworks(out)
	return out, nil
}

// Publisher converts the enabled sections into a publisher.Config.
func (c *Config) Publisher() publisher.Config {
	var pc publisher.Config
	if c.Bluesky.enabled() {
		pc.Bluesky = &bluesky.Config{
			Identifier: c.Bluesky.Identifier,
			Password:   c.Bluesky.Password,
			Service:    c.Bluesky.Service,
		}
	}
	if c.Mastodon.enabled() {
		pc.Mastodon = &mastodon.Config{
			InstanceURL:  c.Mastodon.InstanceURL,
			AccessToken:  c.Mastodon.AccessToken,
			ClientID:     c.Mastodon.ClientID,
			ClientSecret: c.Mastodon.ClientSecret,
		}
	}
	if c.Twitter.enabled() {
		pc.Twitter = &twitter.Config{
			APIKey:       c.Twitter.ConsumerKey,
			APISecret:    c.Twitter.ConsumerSecret,
			AccessToken:  c.Twitter.AccessToken,
			AccessSecret: c.Twitter.AccessTokenSecret,
		}
	}
	pc.DefaultVisibility, _ = xpost.ParseVisibility(c.DefaultVisibility)
	return pc
}
