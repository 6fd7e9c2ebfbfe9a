// CLAUDE:SUMMARY Defines annotator config structs and parses YAML configuration files with defaults.
// Package config handles annotator configuration from YAML files.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/mapslink/idgen"
)

// Config is the top-level annotator configuration. It covers the browser
// and the pages to open; detection rules and timings are not configurable.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Pages   []PageConfig  `yaml:"pages"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
	MaxOpenTabs      int           `yaml:"max_open_tabs"`
}

// PageConfig defines a results page to annotate.
type PageConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Browser.MaxOpenTabs <= 0 {
		c.Browser.MaxOpenTabs = 4
	}
	for i := range c.Pages {
		if c.Pages[i].ID == "" {
			c.Pages[i].ID = idgen.Prefixed("page_", idgen.Default)()
		}
	}
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth: unknown mode %q", c.Browser.Stealth)
	}
	if len(c.Pages) == 0 {
		return errors.New("config: no pages")
	}
	seen := make(map[string]bool, len(c.Pages))
	for i, p := range c.Pages {
		u, err := url.Parse(p.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config: pages[%d]: invalid url %q", i, p.URL)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: pages[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
