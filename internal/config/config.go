// Package config loads layersmith settings from YAML and the environment.
//
// Every key has a default, so a missing file yields a working local setup.
// Environment variables override file values: LAYERSMITH_ followed by the key
// path in upper case with dots replaced by underscores, for example
// LAYERSMITH_SERVER_PORT or LAYERSMITH_PIPELINE_MAX_CONCURRENT.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ironsheep/layersmith/internal/anchor"
	"github.com/ironsheep/layersmith/internal/archive"
	"github.com/ironsheep/layersmith/internal/imaging"
	"github.com/ironsheep/layersmith/internal/inference"
	"github.com/ironsheep/layersmith/internal/layers"
	"github.com/ironsheep/layersmith/internal/pipeline"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LAYERSMITH"

// DefaultPath is read by New.
const DefaultPath = "config.yaml"

// Config is the complete layersmith configuration, one section per component.
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	Redis     archive.RedisConfig `mapstructure:"redis"`
	Upload    UploadConfig        `mapstructure:"upload"`
	Archive   ArchiveConfig       `mapstructure:"archive"`
	Pipeline  PipelineConfig      `mapstructure:"pipeline"`
	Inference inference.Config    `mapstructure:"inference"`
	Decompose layers.Config       `mapstructure:"decompose"`
	Anchor    AnchorConfig        `mapstructure:"anchor"`
	Log       LogConfig           `mapstructure:"log"`
}

// ServerConfig controls the HTTP listener and batch admission.
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`

	// MaxBatches bounds batches processed at once; further requests wait up to
	// BatchQueueTimeout and are then rejected.
	MaxBatches        int           `mapstructure:"max_batches"`
	BatchQueueTimeout time.Duration `mapstructure:"batch_queue_timeout"`
}

// UploadConfig limits what a single batch request may upload.
type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	MaxFiles     int      `mapstructure:"max_files"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// ArchiveConfig sets where archives are written and how long they are kept.
type ArchiveConfig struct {
	Dir           string        `mapstructure:"dir"`
	TTL           time.Duration `mapstructure:"ttl"`
	ThumbnailSize int           `mapstructure:"thumbnail_size"`
}

// PipelineConfig tunes batch processing and the optional preprocessing step.
type PipelineConfig struct {
	ClassifyThreshold float64       `mapstructure:"classify_threshold"`
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
	QueueTimeout      time.Duration `mapstructure:"queue_timeout"`
	DebugDir          string        `mapstructure:"debug_dir"`

	Preprocess     bool    `mapstructure:"preprocess"`
	PreprocessSize int     `mapstructure:"preprocess_size"`
	BlurRadius     float64 `mapstructure:"blur_radius"`
	Contrast       float64 `mapstructure:"contrast"`
	Stretch        bool    `mapstructure:"stretch"`
}

// AnchorConfig describes the registration crosses drawn on every layer.
type AnchorConfig struct {
	CrossSize    int `mapstructure:"cross_size"`
	Margin       int `mapstructure:"margin"`
	OutlineWidth int `mapstructure:"outline_width"`

	// Color fixes the cross colour as "#rrggbb"; empty picks it automatically.
	Color string `mapstructure:"color"`
}

// LogConfig selects the zap log level.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configPath (YAML) on top of the defaults and applies environment
// overrides. An empty path skips the file.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// New loads DefaultPath, falling back to defaults plus environment when the file
// is missing or unreadable.
func New() *Config {
	cfg, err := Load(DefaultPath)
	if err != nil {
		cfg, err = Load("")
		if err != nil {
			return Default()
		}
	}
	return cfg
}

// Default returns the built-in configuration without reading the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_batches", 4)
	v.SetDefault("server.batch_queue_timeout", 30*time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("upload.max_size", 20*1024*1024)
	v.SetDefault("upload.max_files", 20)
	v.SetDefault("upload.allowed_types", []string{"image/jpeg", "image/png", "image/jpg", "image/webp", "image/bmp", "image/tiff", "image/gif"})

	v.SetDefault("archive.dir", "./archives")
	v.SetDefault("archive.ttl", 24*time.Hour)
	v.SetDefault("archive.thumbnail_size", imaging.DefaultThumbnailSize)

	pd := pipeline.DefaultConfig()
	pp := imaging.DefaultPreprocessOptions()
	v.SetDefault("pipeline.classify_threshold", pd.ClassifyThreshold)
	v.SetDefault("pipeline.max_concurrent", pd.MaxConcurrent)
	v.SetDefault("pipeline.queue_timeout", pd.QueueTimeout)
	v.SetDefault("pipeline.debug_dir", "")
	v.SetDefault("pipeline.preprocess", false)
	v.SetDefault("pipeline.preprocess_size", pp.Size)
	v.SetDefault("pipeline.blur_radius", pp.BlurRadius)
	v.SetDefault("pipeline.contrast", pp.Contrast)
	v.SetDefault("pipeline.stretch", pp.Stretch)

	id := inference.DefaultConfig()
	v.SetDefault("inference.mode", id.Mode)
	v.SetDefault("inference.endpoint", id.Endpoint)
	v.SetDefault("inference.timeout", id.Timeout)
	v.SetDefault("inference.segment_level", id.SegmentLevel)
	v.SetDefault("inference.upscale_factor", id.UpscaleFactor)

	dd := layers.DefaultConfig()
	v.SetDefault("decompose.n_init", dd.NInit)
	v.SetDefault("decompose.max_iter", dd.MaxIter)
	v.SetDefault("decompose.tolerance", dd.Tolerance)
	v.SetDefault("decompose.seed", dd.Seed)
	v.SetDefault("decompose.explore_init", dd.ExploreInit)
	v.SetDefault("decompose.explore_iter", dd.ExploreIter)
	v.SetDefault("decompose.explore_sample", dd.ExploreSample)

	v.SetDefault("anchor.cross_size", anchor.DefaultCrossSize)
	v.SetDefault("anchor.margin", anchor.DefaultMargin)
	v.SetDefault("anchor.outline_width", anchor.DefaultOutlineWidth)
	v.SetDefault("anchor.color", "")

	v.SetDefault("log.level", "")
}

// Validate checks values that would otherwise fail deep inside the pipeline.
func (c *Config) Validate() error {
	var errs []error
	if c.Archive.Dir == "" {
		errs = append(errs, errors.New("archive.dir must be set"))
	}
	if c.Pipeline.ClassifyThreshold < 0 || c.Pipeline.ClassifyThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.classify_threshold must be within [0,1], got %v", c.Pipeline.ClassifyThreshold))
	}
	if c.Upload.MaxFiles < 1 {
		errs = append(errs, fmt.Errorf("upload.max_files must be positive, got %d", c.Upload.MaxFiles))
	}
	switch c.Inference.Mode {
	case inference.ModeLocal, inference.ModeRemote:
	default:
		errs = append(errs, fmt.Errorf("inference.mode must be %q or %q, got %q", inference.ModeLocal, inference.ModeRemote, c.Inference.Mode))
	}
	if _, err := c.AnchorOptions(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// AnchorOptions converts the anchor section.
func (c *Config) AnchorOptions() (anchor.Options, error) {
	opts := anchor.Options{
		CrossSize:    c.Anchor.CrossSize,
		Margin:       c.Anchor.Margin,
		OutlineWidth: c.Anchor.OutlineWidth,
	}
	if c.Anchor.Color != "" {
		rgb, err := imaging.ParseHex(c.Anchor.Color)
		if err != nil {
			return anchor.Options{}, fmt.Errorf("anchor.color: %w", err)
		}
		opts.Color = &rgb
	}
	return opts, opts.Validate()
}

// PipelineConfig converts the pipeline section.
func (c *Config) PipelineConfig() pipeline.Config {
	pc := pipeline.Config{
		ClassifyThreshold: c.Pipeline.ClassifyThreshold,
		MaxConcurrent:     c.Pipeline.MaxConcurrent,
		QueueTimeout:      c.Pipeline.QueueTimeout,
		DebugDir:          c.Pipeline.DebugDir,
	}
	if c.Pipeline.Preprocess {
		pc.Preprocess = &imaging.PreprocessOptions{
			Size:       c.Pipeline.PreprocessSize,
			BlurRadius: c.Pipeline.BlurRadius,
			Contrast:   c.Pipeline.Contrast,
			Stretch:    c.Pipeline.Stretch,
		}
	}
	return pc
}

// LogLevel returns the configured level, defaulting by server mode.
func (c *Config) LogLevel() string {
	if c.Log.Level != "" {
		return c.Log.Level
	}
	if c.Server.Mode == "release" {
		return "info"
	}
	return "debug"
}
