// Package config loads and validates archive settings via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/go-scripts/postarchive/internal/extract"
	"github.com/go-scripts/postarchive/internal/render"
)

// EnvPrefix namespaces environment overrides, e.g. POSTARCHIVE_RENDER_TIMEOUT_SECONDS.
const EnvPrefix = "POSTARCHIVE"

// Settings captures every knob of an archive run.
type Settings struct {
	Crawl  CrawlSettings  `mapstructure:"crawl"`
	Render RenderSettings `mapstructure:"render"`
}

// CrawlSettings governs discovery and pacing.
type CrawlSettings struct {
	PostsLimit     int           `mapstructure:"posts_limit"`
	LinksLimit     int           `mapstructure:"links_limit"`
	OutputDir      string        `mapstructure:"output_dir"`
	Selector       string        `mapstructure:"selector"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	DelayMin       time.Duration `mapstructure:"delay_min"`
	DelayMax       time.Duration `mapstructure:"delay_max"`
}

// RenderSettings selects and tunes the snapshot backend.
type RenderSettings struct {
	Backend        string `mapstructure:"backend"`
	Command        string `mapstructure:"command"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Headless       bool   `mapstructure:"headless"`
}

// Timeout returns the per-page render timeout.
func (r RenderSettings) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Load builds Settings from defaults, an optional config file and the
// environment. With an empty path, postarchive.yaml is looked up in the
// working directory and $HOME/.postarchive; not finding it is fine.
// usedFile is empty when no file was read.
func Load(path string) (s Settings, usedFile string, err error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("postarchive")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.postarchive")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Settings{}, "", fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, "", fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, "", err
	}

	return s, v.ConfigFileUsed(), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.posts_limit", 0)
	v.SetDefault("crawl.links_limit", 0)
	v.SetDefault("crawl.output_dir", "")
	v.SetDefault("crawl.selector", extract.DefaultSelector)
	v.SetDefault("crawl.user_agent", "")
	v.SetDefault("crawl.request_timeout", "30s")
	v.SetDefault("crawl.delay_min", "100ms")
	v.SetDefault("crawl.delay_max", "300ms")
	v.SetDefault("render.backend", render.BackendSingleFile)
	v.SetDefault("render.command", render.DefaultCommand)
	v.SetDefault("render.timeout_seconds", 300)
	v.SetDefault("render.headless", false)
}

// Validate rejects settings that would misbehave at run time.
func (s Settings) Validate() error {
	if s.Crawl.PostsLimit < 0 {
		return fmt.Errorf("crawl.posts_limit must be >= 0")
	}
	if s.Crawl.LinksLimit < 0 {
		return fmt.Errorf("crawl.links_limit must be >= 0")
	}
	if strings.TrimSpace(s.Crawl.Selector) == "" {
		return fmt.Errorf("crawl.selector must not be empty")
	}
	if s.Crawl.RequestTimeout <= 0 {
		return fmt.Errorf("crawl.request_timeout must be > 0")
	}
	if s.Crawl.DelayMin < 0 || s.Crawl.DelayMax < s.Crawl.DelayMin {
		return fmt.Errorf("crawl.delay_min must be >= 0 and <= crawl.delay_max")
	}
	if s.Render.TimeoutSeconds <= 0 {
		return fmt.Errorf("render.timeout_seconds must be > 0")
	}
	switch s.Render.Backend {
	case render.BackendSingleFile:
		if s.Render.Command == "" {
			return fmt.Errorf("render.command must be set for the %s backend", render.BackendSingleFile)
		}
	case render.BackendChromedp:
	default:
		return fmt.Errorf("render.backend %q is not one of %s, %s",
			s.Render.Backend, render.BackendSingleFile, render.BackendChromedp)
	}
	return nil
}
