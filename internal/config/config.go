package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Auth: bearer token for /api routes. Empty disables auth.
	APIKey string

	// Document root served by GET /docs/{name}.
	DocsDir string

	// Rendering
	CaptionPosition  string // "above" or "below"
	BibliographyPath string
	PluginManifest   string
	WikiBase         string
	WikiSuffix       string
	IncludeDepth     int
	InjectTimeout    time.Duration

	// Request limits
	MaxRequestBytes int64
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8080"),

		APIKey:  os.Getenv("MDSERVER_API_KEY"),
		DocsDir: envOr("DOCS_DIR", "./docs"),

		CaptionPosition:  envOr("CAPTION_POSITION", "above"),
		BibliographyPath: os.Getenv("BIBLIOGRAPHY_PATH"),
		PluginManifest:   os.Getenv("PLUGIN_MANIFEST"),
		WikiBase:         envOr("WIKI_BASE", "/docs/"),
		WikiSuffix:       os.Getenv("WIKI_SUFFIX"),
		IncludeDepth:     envInt("INCLUDE_DEPTH", 10),
		InjectTimeout:    envDuration("MDSERVER_INJECT_TIMEOUT", 10*time.Second),

		MaxRequestBytes: envInt64("MAX_REQUEST_BYTES", 4194304), // 4MB
	}

	if cfg.IncludeDepth <= 0 {
		cfg.IncludeDepth = 10
	}
	if cfg.InjectTimeout <= 0 {
		cfg.InjectTimeout = 10 * time.Second
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = 4194304
	}

	return cfg
}

func (c Config) Validate() error {
	if c.CaptionPosition != "above" && c.CaptionPosition != "below" {
		return fmt.Errorf("CAPTION_POSITION must be above or below, got %q", c.CaptionPosition)
	}
	if c.DocsDir == "" {
		return fmt.Errorf("DOCS_DIR is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
