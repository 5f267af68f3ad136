// Package config holds the runtime settings for the anki-mcp server.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/danieldreier/anki-mcp/internal/anki"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Transport modes.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// Config is the full server configuration.
type Config struct {
	AnkiConnect AnkiConnect `yaml:"anki_connect"`
	Transport   Transport   `yaml:"transport"`
	Log         Log         `yaml:"log"`
	Rename      Rename      `yaml:"rename"`
}

// AnkiConnect describes the remote endpoint.
type AnkiConnect struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Transport selects how MCP clients reach the server.
type Transport struct {
	Mode    string `yaml:"mode"`
	Addr    string `yaml:"addr"`
	BaseURL string `yaml:"base_url"`
}

// Log configures the zap logger.
type Log struct {
	Level string `yaml:"level"`
}

// Rename controls the deck rename compound operation.
type Rename struct {
	Rollback bool `yaml:"rollback"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		AnkiConnect: AnkiConnect{URL: anki.DefaultURL},
		Transport:   Transport{Mode: TransportStdio, Addr: ":8080"},
		Log:         Log{Level: "info"},
		Rename:      Rename{Rollback: true},
	}
}

// Load reads a YAML file on top of the defaults. An empty path yields the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(c)
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.AnkiConnect.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("anki_connect.url %q must be an absolute http(s) URL", c.AnkiConnect.URL))
	}
	if c.AnkiConnect.Timeout < 0 {
		errs = append(errs, fmt.Errorf("anki_connect.timeout must not be negative"))
	}

	switch c.Transport.Mode {
	case TransportStdio:
	case TransportSSE:
		if c.Transport.Addr == "" {
			errs = append(errs, errors.New("transport.addr is required for sse"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport.mode %q must be %q or %q", c.Transport.Mode, TransportStdio, TransportSSE))
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}
