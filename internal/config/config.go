package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Camera holds zoom bounds and fit-to-content framing
type Camera struct {
	MinZoom     float64       `mapstructure:"min_zoom"`
	MaxZoom     float64       `mapstructure:"max_zoom"`
	FitPadding  float64       `mapstructure:"fit_padding"`
	FitMaxZoom  float64       `mapstructure:"fit_max_zoom"`
	FitDuration time.Duration `mapstructure:"fit_duration"`
}

// Interaction holds the gesture thresholds
type Interaction struct {
	ClickDistance     float64       `mapstructure:"click_distance"`
	ClickTime         time.Duration `mapstructure:"click_time"`
	DoubleClickWindow time.Duration `mapstructure:"double_click_window"`
	SaveDebounce      time.Duration `mapstructure:"save_debounce"`
}

// Navigation holds transition settings
type Navigation struct {
	SettleTimeout time.Duration `mapstructure:"settle_timeout"`
	SlugLength    int           `mapstructure:"slug_length"`
}

// Undo holds the history bound
type Undo struct {
	Size int `mapstructure:"size"`
}

// Layout holds packing and align parameters
type Layout struct {
	Gap          float64 `mapstructure:"gap"`
	Passes       int     `mapstructure:"passes"`
	MaxAlignMove float64 `mapstructure:"max_align_move"`
}

// Persist holds retry and polling settings
type Persist struct {
	Retries      int           `mapstructure:"retries"`
	Backoff      time.Duration `mapstructure:"backoff"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Fetcher holds link preview settings
type Fetcher struct {
	CacheSize int `mapstructure:"cache_size"`
}

// Upload holds the pre-compression ceilings
type Upload struct {
	MaxBytes     int64 `mapstructure:"max_bytes"`
	MaxDimension int   `mapstructure:"max_dimension"`
}

// Embedding toggles similarity-based layout grouping
type Embedding struct {
	Enabled bool `mapstructure:"enabled"`
}

// Config is the full application configuration
type Config struct {
	DB          string      `mapstructure:"db"`
	Addr        string      `mapstructure:"addr"`
	Owner       string      `mapstructure:"owner"`
	Camera      Camera      `mapstructure:"camera"`
	Interaction Interaction `mapstructure:"interaction"`
	Navigation  Navigation  `mapstructure:"navigation"`
	Undo        Undo        `mapstructure:"undo"`
	Layout      Layout      `mapstructure:"layout"`
	Persist     Persist     `mapstructure:"persist"`
	Fetcher     Fetcher     `mapstructure:"fetcher"`
	Upload      Upload      `mapstructure:"upload"`
	Embedding   Embedding   `mapstructure:"embedding"`
}

// Dir returns the directory holding config.yaml and the default database
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".canvas"
	}
	return filepath.Join(home, ".canvas")
}

// Default returns the stock configuration
func Default() Config {
	return Config{
		DB:    filepath.Join(Dir(), "canvas.db"),
		Addr:  ":8080",
		Owner: "me",
		Camera: Camera{
			MinZoom:     0.1,
			MaxZoom:     4,
			FitPadding:  80,
			FitMaxZoom:  1,
			FitDuration: 400 * time.Millisecond,
		},
		Interaction: Interaction{
			ClickDistance:     5,
			ClickTime:         300 * time.Millisecond,
			DoubleClickWindow: 250 * time.Millisecond,
			SaveDebounce:      500 * time.Millisecond,
		},
		Navigation: Navigation{SettleTimeout: time.Second, SlugLength: 40},
		Undo:       Undo{Size: 50},
		Layout:     Layout{Gap: 20, Passes: 8, MaxAlignMove: 60},
		Persist:    Persist{Retries: 3, Backoff: 200 * time.Millisecond, PollInterval: 5 * time.Second},
		Fetcher:    Fetcher{CacheSize: 256},
		Upload:     Upload{MaxBytes: 2 << 20, MaxDimension: 2048},
	}
}

// New returns a viper instance seeded with every default, reading CANVAS_*
// environment overrides
func New() *viper.Viper {
	cfg := Default()
	v := viper.New()
	v.SetEnvPrefix("canvas")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("db", cfg.DB)
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("owner", cfg.Owner)
	v.SetDefault("camera.min_zoom", cfg.Camera.MinZoom)
	v.SetDefault("camera.max_zoom", cfg.Camera.MaxZoom)
	v.SetDefault("camera.fit_padding", cfg.Camera.FitPadding)
	v.SetDefault("camera.fit_max_zoom", cfg.Camera.FitMaxZoom)
	v.SetDefault("camera.fit_duration", cfg.Camera.FitDuration)
	v.SetDefault("interaction.click_distance", cfg.Interaction.ClickDistance)
	v.SetDefault("interaction.click_time", cfg.Interaction.ClickTime)
	v.SetDefault("interaction.double_click_window", cfg.Interaction.DoubleClickWindow)
	v.SetDefault("interaction.save_debounce", cfg.Interaction.SaveDebounce)
	v.SetDefault("navigation.settle_timeout", cfg.Navigation.SettleTimeout)
	v.SetDefault("navigation.slug_length", cfg.Navigation.SlugLength)
	v.SetDefault("undo.size", cfg.Undo.Size)
	v.SetDefault("layout.gap", cfg.Layout.Gap)
	v.SetDefault("layout.passes", cfg.Layout.Passes)
	v.SetDefault("layout.max_align_move", cfg.Layout.MaxAlignMove)
	v.SetDefault("persist.retries", cfg.Persist.Retries)
	v.SetDefault("persist.backoff", cfg.Persist.Backoff)
	v.SetDefault("persist.poll_interval", cfg.Persist.PollInterval)
	v.SetDefault("fetcher.cache_size", cfg.Fetcher.CacheSize)
	v.SetDefault("upload.max_bytes", cfg.Upload.MaxBytes)
	v.SetDefault("upload.max_dimension", cfg.Upload.MaxDimension)
	v.SetDefault("embedding.enabled", cfg.Embedding.Enabled)
	return v
}

// Load reads path (or Dir()/config.yaml when empty) into a Config. A missing
// file is not an error.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = New()
	}
	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
	} else {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the components cannot run with
func (c Config) Validate() error {
	switch {
	case c.Camera.MinZoom <= 0 || c.Camera.MaxZoom < c.Camera.MinZoom:
		return fmt.Errorf("invalid zoom range [%g, %g]", c.Camera.MinZoom, c.Camera.MaxZoom)
	case c.Undo.Size <= 0:
		return fmt.Errorf("undo.size must be positive, got %d", c.Undo.Size)
	case c.Layout.Gap < 0:
		return fmt.Errorf("layout.gap must not be negative, got %g", c.Layout.Gap)
	case c.Upload.MaxBytes <= 0 || c.Upload.MaxDimension <= 0:
		return fmt.Errorf("upload limits must be positive")
	}
	return nil
}
