package annotator

import (
	"github.com/hazyhaar/mapslink/annotator/internal/config"
)

// Config is the top-level annotator configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig defines a results page to annotate.
type PageConfig = config.PageConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig decodes YAML configuration with defaults applied.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}
