// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/previewkit/ogpipe/internal/ogimage"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig             `mapstructure:"server"`
	Logging   LoggingConfig            `mapstructure:"logging"`
	Build     BuildConfig              `mapstructure:"build"`
	Images    ImagesConfig             `mapstructure:"images"`
	Browser   BrowserConfig            `mapstructure:"browser"`
	Preview   PreviewConfig            `mapstructure:"preview"`
	Fonts     FontsConfig              `mapstructure:"fonts"`
	Storage   StorageConfig            `mapstructure:"storage"`
	Publisher PublisherConfig          `mapstructure:"publisher"`
	Site      SiteConfig               `mapstructure:"site"`
	Overlays  map[string]OverlayConfig `mapstructure:"overlays"`
}

// ServerConfig controls the runtime HTTP endpoint.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// BuildConfig describes the static build the orchestrator drains against.
type BuildConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	// FullExport marks a full static export; browser-provider jobs are
	// queued unconditionally in that mode.
	FullExport bool `mapstructure:"full_export"`
	// Dev disables draining entirely.
	Dev bool `mapstructure:"dev"`
}

// ImagesConfig holds image generation defaults and cache TTLs.
type ImagesConfig struct {
	Provider      string `mapstructure:"provider"`
	Width         int    `mapstructure:"width"`
	Height        int    `mapstructure:"height"`
	StaticTTLSec  int    `mapstructure:"static_ttl_seconds"`
	DynamicTTLSec int    `mapstructure:"dynamic_ttl_seconds"`
}

// BrowserConfig configures the headless capture backend.
type BrowserConfig struct {
	// InstallCommand is the external installer invoked before a drain.
	// Empty means the step is skipped.
	InstallCommand []string `mapstructure:"install_command"`
	NavTimeoutSec  int      `mapstructure:"nav_timeout_seconds"`
	UserAgent      string   `mapstructure:"user_agent"`
}

// PreviewConfig configures the static preview server subprocess.
type PreviewConfig struct {
	Command         []string `mapstructure:"command"`
	ReadyPhrase     string   `mapstructure:"ready_phrase"`
	ReadyTimeoutSec int      `mapstructure:"ready_timeout_seconds"`
}

// FontsConfig configures font resolution for the vector backend.
type FontsConfig struct {
	// Endpoint is the fallback font-serving base URL.
	Endpoint string `mapstructure:"endpoint"`
	// Ext is the file extension requested from the endpoint.
	Ext string `mapstructure:"ext"`
	// CachePrefix namespaces font entries in the blob store.
	CachePrefix string `mapstructure:"cache_prefix"`
}

// StorageConfig selects and parameterizes the blob store.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PublisherConfig selects the completion-event publisher.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// SiteConfig points the runtime endpoint at the deployed site.
type SiteConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// OverlayConfig is the on-disk form of a route overlay. Pointer fields
// distinguish "unset" from zero values.
type OverlayConfig struct {
	Provider  string         `mapstructure:"provider"`
	Width     *int           `mapstructure:"width"`
	Height    *int           `mapstructure:"height"`
	Component *string        `mapstructure:"component"`
	Static    *bool          `mapstructure:"static"`
	Disabled  bool           `mapstructure:"disabled"`
	Extra     map[string]any `mapstructure:"extra"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OGPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("build.output_dir", "dist")
	v.SetDefault("build.full_export", true)
	v.SetDefault("build.dev", false)
	v.SetDefault("images.provider", string(ogimage.ProviderBrowser))
	v.SetDefault("images.width", 1200)
	v.SetDefault("images.height", 630)
	v.SetDefault("images.static_ttl_seconds", 3600)
	v.SetDefault("images.dynamic_ttl_seconds", 5)
	v.SetDefault("browser.nav_timeout_seconds", 25)
	v.SetDefault("browser.user_agent", "ogpipe/0.1")
	v.SetDefault("preview.ready_phrase", "Accepting connections")
	v.SetDefault("preview.ready_timeout_seconds", 30)
	v.SetDefault("fonts.endpoint", "https://fonts.ogpipe.dev/api")
	v.SetDefault("fonts.ext", "ttf")
	v.SetDefault("fonts.cache_prefix", "fonts")
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.base_dir", "dist")
	v.SetDefault("publisher.provider", "noop")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Images.Width <= 0 || c.Images.Height <= 0 {
		return fmt.Errorf("images.width and images.height must be > 0")
	}
	if c.Images.StaticTTLSec <= c.Images.DynamicTTLSec {
		return fmt.Errorf("images.static_ttl_seconds must exceed images.dynamic_ttl_seconds")
	}
	if c.Browser.NavTimeoutSec <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Preview.ReadyTimeoutSec <= 0 {
		return fmt.Errorf("preview.ready_timeout_seconds must be > 0")
	}
	switch c.Storage.Provider {
	case "local", "memory":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}
	switch c.Publisher.Provider {
	case "noop", "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic must be set when publisher.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown publisher provider: %s", c.Publisher.Provider)
	}
	return nil
}

// StaticTTL returns the cache lifetime for build-time-stable entries.
func (c Config) StaticTTL() time.Duration {
	return time.Duration(c.Images.StaticTTLSec) * time.Second
}

// DynamicTTL returns the cache lifetime for per-request entries.
func (c Config) DynamicTTL() time.Duration {
	return time.Duration(c.Images.DynamicTTLSec) * time.Second
}

// NavTimeout converts the browser navigation timeout to a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSec) * time.Second
}

// ReadyTimeout bounds the preview-server readiness wait.
func (c Config) ReadyTimeout() time.Duration {
	return time.Duration(c.Preview.ReadyTimeoutSec) * time.Second
}

// OverlayRules converts the configured overlay map into domain overlays.
func (c Config) OverlayRules() []ogimage.Overlay {
	rules := make([]ogimage.Overlay, 0, len(c.Overlays))
	for pattern, oc := range c.Overlays {
		o := ogimage.Overlay{
			Pattern:   pattern,
			Width:     oc.Width,
			Height:    oc.Height,
			Component: oc.Component,
			Static:    oc.Static,
			Disabled:  oc.Disabled,
			Extra:     oc.Extra,
		}
		if oc.Provider != "" {
			p := ogimage.Provider(oc.Provider)
			o.Provider = &p
		}
		rules = append(rules, o)
	}
	return rules
}
