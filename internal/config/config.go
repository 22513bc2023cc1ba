// Package config loads jukebox settings from defaults, an optional YAML
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"jukebox/internal/logging"
	"jukebox/internal/playback"
)

// EnvPrefix prefixes every environment override, e.g. JUKEBOX_SERVER_PORT.
const EnvPrefix = "JUKEBOX"

// Config holds all application configuration
type Config struct {
	Server  ServerConfig   `mapstructure:"server"`
	YouTube YouTubeConfig  `mapstructure:"youtube"`
	Engine  EngineConfig   `mapstructure:"engine"`
	Client  ClientConfig   `mapstructure:"client"`
	Logging logging.Config `mapstructure:"logging"`
}

// ServerConfig holds the HTTP/WebSocket listener settings
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // "*" allows any origin
}

// YouTubeConfig holds the search passthrough settings
type YouTubeConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// EngineConfig tunes the playback engine
type EngineConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	AutoAdvance     bool          `mapstructure:"auto_advance"`
	DefaultDuration int           `mapstructure:"default_duration"` // seconds
	Seed            []SeedTrack   `mapstructure:"seed"`
}

// SeedTrack is a playlist entry loaded at server start
type SeedTrack struct {
	Name     string `mapstructure:"name"`
	Artist   string `mapstructure:"artist"`
	VideoID  string `mapstructure:"video_id"`
	Duration int    `mapstructure:"duration"`
}

// ClientConfig holds settings for the `join` client
type ClientConfig struct {
	ServerURL     string        `mapstructure:"server_url"`
	StateFile     string        `mapstructure:"state_file"`
	MaxRetries    int           `mapstructure:"max_retries"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	SearchTimeout time.Duration `mapstructure:"search_timeout"`
}

// Addr is the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// SeedTracks converts the configured seed into playlist tracks.
func (e EngineConfig) SeedTracks() []playback.Track {
	tracks := make([]playback.Track, 0, len(e.Seed))
	for _, s := range e.Seed {
		tracks = append(tracks, playback.NewTrack(s.Name, s.Artist, s.VideoID, s.Duration, e.DefaultDuration))
	}
	return tracks
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("youtube.api_key", "")
	v.SetDefault("youtube.base_url", "https://www.googleapis.com/youtube/v3")
	v.SetDefault("youtube.timeout", 10*time.Second)

	v.SetDefault("engine.tick_interval", time.Second)
	v.SetDefault("engine.auto_advance", false)
	v.SetDefault("engine.default_duration", playback.DefaultDuration)
	v.SetDefault("engine.seed", []map[string]any{
		{"name": "Imagine", "artist": "John Lennon", "video_id": "YkgkThdzX-8", "duration": 187},
	})

	v.SetDefault("client.server_url", "http://localhost:3001")
	v.SetDefault("client.state_file", defaultStatePath())
	v.SetDefault("client.max_retries", 3)
	v.SetDefault("client.backoff_base", 2*time.Second)
	v.SetDefault("client.backoff_max", 10*time.Second)
	v.SetDefault("client.search_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// defaultConfigPath returns the per-user config directory
func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "jukebox")
}

// defaultStatePath returns where the client keeps its offline state
func defaultStatePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "jukebox", "player-state.db")
}

// Load reads configuration. An explicit path must exist; otherwise
// jukebox.yaml is looked up in the working and per-user config directories
// and may be absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("jukebox")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultConfigPath())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unprefixed names accepted for compatibility with common hosting setups.
	_ = v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")
	_ = v.BindEnv("youtube.api_key", EnvPrefix+"_YOUTUBE_API_KEY", "YOUTUBE_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("invalid engine.tick_interval %s", c.Engine.TickInterval)
	}
	if c.YouTube.Timeout <= 0 {
		return fmt.Errorf("invalid youtube.timeout %s", c.YouTube.Timeout)
	}
	if c.Client.MaxRetries < 0 {
		return fmt.Errorf("invalid client.max_retries %d", c.Client.MaxRetries)
	}
	return nil
}

// YouTubeConfigured reports whether a search credential is present.
func (c *Config) YouTubeConfigured() bool {
	return c.YouTube.APIKey != ""
}
