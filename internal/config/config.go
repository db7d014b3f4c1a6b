package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"photo-press-go/internal/compressor"
	"photo-press-go/internal/metadata"
)

// Config represents the main configuration structure
type Config struct {
	SourceDirectory     string            `mapstructure:"source_directory"`
	TargetDirectory     *string           `mapstructure:"target_directory"`
	SupportedExtensions []string          `mapstructure:"supported_extensions"`
	Compression         CompressionConfig `mapstructure:"compression"`
	Processing          ProcessingConfig  `mapstructure:"processing"`
	Performance         PerformanceConfig `mapstructure:"performance"`
	Security            SecurityConfig    `mapstructure:"security"`
	Server              ServerConfig      `mapstructure:"server"`
	Logging             LoggingConfig     `mapstructure:"logging"`
}

// CompressionConfig contains the default pipeline settings
type CompressionConfig struct {
	MaxWidth            int           `mapstructure:"max_width"`
	MaxHeight           int           `mapstructure:"max_height"`
	Quality             float64       `mapstructure:"quality"`
	MaxSizeMB           float64       `mapstructure:"max_size_mb"`
	Format              string        `mapstructure:"format"`
	MaintainAspectRatio bool          `mapstructure:"maintain_aspect_ratio"`
	Resampler           string        `mapstructure:"resampler"`
	ImageTimeout        time.Duration `mapstructure:"image_timeout"` // 0 disables
}

// ProcessingConfig contains output handling settings
type ProcessingConfig struct {
	SkipMarked  bool   `mapstructure:"skip_marked"`
	StampOutput bool   `mapstructure:"stamp_output"`
	Mark        string `mapstructure:"mark"`
	Overwrite   bool   `mapstructure:"overwrite"`
}

// PerformanceConfig contains performance tuning settings
type PerformanceConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

// SecurityConfig contains security and safety settings
type SecurityConfig struct {
	DryRun         bool `mapstructure:"dry_run"`
	MaxFilesPerRun int  `mapstructure:"max_files_per_run"`
}

// ServerConfig contains web API settings
type ServerConfig struct {
	Port          int     `mapstructure:"port"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	RateBurst     int     `mapstructure:"rate_burst"`
	MaxBodyMB     int     `mapstructure:"max_body_mb"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or text
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	defaults := compressor.DefaultConfig()
	return &Config{
		SupportedExtensions: []string{
			".jpg", ".jpeg", ".png", ".gif", ".webp", ".tiff", ".tif", ".bmp",
		},
		Compression: CompressionConfig{
			MaxWidth:            defaults.MaxWidth,
			MaxHeight:           defaults.MaxHeight,
			Quality:             defaults.Quality,
			MaxSizeMB:           defaults.MaxSizeMB,
			Format:              string(defaults.Format),
			MaintainAspectRatio: true,
			Resampler:           string(compressor.ResamplerCatmullRom),
		},
		Processing: ProcessingConfig{
			SkipMarked:  true,
			StampOutput: false,
			Mark:        metadata.DefaultMark,
			Overwrite:   false,
		},
		Performance: PerformanceConfig{
			BatchSize: 20,
		},
		Security: SecurityConfig{
			DryRun:         false,
			MaxFilesPerRun: 0, // 0 means no limit
		},
		Server: ServerConfig{
			Port:          8080,
			RatePerSecond: 2,
			RateBurst:     5,
			MaxBodyMB:     50,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			FilePath:   "photo-press.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.photo-press")
		v.AddConfigPath("/etc/photo-press")
	}

	v.SetEnvPrefix("PHOTO_PRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	// Lists from the file replace the defaults instead of merging into them.
	if v.IsSet("supported_extensions") {
		config.SupportedExtensions = nil
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// bindEnvKeys registers every key so AutomaticEnv values reach Unmarshal even
// when the config file does not mention them.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"source_directory", "target_directory",
		"compression.max_width", "compression.max_height", "compression.quality",
		"compression.max_size_mb", "compression.format", "compression.resampler",
		"compression.image_timeout",
		"processing.skip_marked", "processing.stamp_output", "processing.mark", "processing.overwrite",
		"performance.batch_size",
		"security.dry_run", "security.max_files_per_run",
		"server.port", "server.rate_per_second", "server.rate_burst", "server.max_body_mb",
		"logging.level", "logging.format", "logging.file_path",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.SourceDirectory != "" && !isValidPath(c.SourceDirectory) {
		return fmt.Errorf("source_directory does not exist or is not accessible: %s", c.SourceDirectory)
	}

	if err := c.CompressorConfig().Validate(); err != nil {
		return fmt.Errorf("compression: %w", err)
	}
	if _, err := compressor.ParseResampler(c.Compression.Resampler); err != nil {
		return fmt.Errorf("compression: %w", err)
	}
	if c.Compression.ImageTimeout < 0 {
		return fmt.Errorf("compression: image_timeout must not be negative")
	}

	c.SupportedExtensions = normalizeExtensions(c.SupportedExtensions)

	if c.Performance.BatchSize <= 0 {
		c.Performance.BatchSize = 20
	}
	if c.Processing.Mark == "" {
		c.Processing.Mark = metadata.DefaultMark
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.RatePerSecond < 0 {
		return fmt.Errorf("server rate_per_second must not be negative")
	}
	if c.Server.RateBurst <= 0 {
		c.Server.RateBurst = 1
	}
	if c.Server.MaxBodyMB <= 0 {
		c.Server.MaxBodyMB = 50
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "":
		c.Logging.Format = "json"
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

// CompressorConfig converts the compression section into pipeline settings
func (c *Config) CompressorConfig() compressor.Config {
	return compressor.Config{
		MaxWidth:            c.Compression.MaxWidth,
		MaxHeight:           c.Compression.MaxHeight,
		Quality:             c.Compression.Quality,
		MaxSizeMB:           c.Compression.MaxSizeMB,
		Format:              compressor.Format(c.Compression.Format),
		MaintainAspectRatio: c.Compression.MaintainAspectRatio,
	}.WithDefaults()
}

// CompressorOptions returns the compressor options implied by the config
func (c *Config) CompressorOptions() []compressor.Option {
	resampler, err := compressor.ParseResampler(c.Compression.Resampler)
	if err != nil {
		resampler = compressor.ResamplerCatmullRom
	}
	return []compressor.Option{
		compressor.WithResampler(resampler),
		compressor.WithImageTimeout(c.Compression.ImageTimeout),
	}
}

// GetTargetDirectory returns the target directory or source directory if target is not set
func (c *Config) GetTargetDirectory() string {
	if c.TargetDirectory != nil && *c.TargetDirectory != "" {
		return *c.TargetDirectory
	}
	return c.SourceDirectory
}

// IsInPlace returns true if outputs are written next to their sources
func (c *Config) IsInPlace() bool {
	return c.TargetDirectory == nil || *c.TargetDirectory == "" ||
		filepath.Clean(*c.TargetDirectory) == filepath.Clean(c.SourceDirectory)
}

// IsImageExtension checks if the extension is a supported image type
func (c *Config) IsImageExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, supportedExt := range c.SupportedExtensions {
		if ext == supportedExt {
			return true
		}
	}
	return false
}

// Helper functions

func isValidPath(path string) bool {
	if path == "" {
		return false
	}

	expandedPath := os.ExpandEnv(path)
	if strings.HasPrefix(expandedPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return false
		}
		expandedPath = filepath.Join(home, expandedPath[1:])
	}

	stat, err := os.Stat(expandedPath)
	return err == nil && stat.IsDir()
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, len(extensions))
	for i, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[i] = ext
	}
	return normalized
}
