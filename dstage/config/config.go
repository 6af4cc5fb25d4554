package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/dataset-stager/dstage"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Staging  StagingConfig  `mapstructure:"staging"`
	Platform PlatformConfig `mapstructure:"platform"`
	Log      LogConfig      `mapstructure:"log"`
}

// StagingConfig controls chunking, archiving and rebalancing.
type StagingConfig struct {
	Root             string `mapstructure:"root"`
	ChunkLimit       int64  `mapstructure:"chunkLimit"`
	MinDatasetSize   int64  `mapstructure:"minDatasetSize"`
	CopyWorkers      int    `mapstructure:"copyWorkers"`
	MoveWorkers      int    `mapstructure:"moveWorkers"`
	LabelSizing      string `mapstructure:"labelSizing"`
	CleanupOnFailure bool   `mapstructure:"cleanupOnFailure"`
	ResetStaging     bool   `mapstructure:"resetStaging"`
	KeepStaging      bool   `mapstructure:"keepStaging"`
	PreservePerms    bool   `mapstructure:"preservePerms"`
	PreserveTimes    bool   `mapstructure:"preserveTimes"`
}

// PlatformConfig stores the remote dataset platform connection details.
type PlatformConfig struct {
	BaseURL        string `mapstructure:"baseURL"`
	ProjectID      string `mapstructure:"projectID"`
	APIKey         string `mapstructure:"apiKey"`
	TimeoutSeconds int    `mapstructure:"timeoutSeconds"`
	AcceptStatus   int    `mapstructure:"acceptStatus"`
}

// LogConfig stores logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Timeout converts the configured seconds to a duration.
func (p PlatformConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// LoadConfig reads configuration from file or environment variables.
// Each call uses its own viper instance so callers never share ambient state.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(internal.DefaultAppName)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // staging.chunkLimit -> DSTAGE_STAGING_CHUNKLIMIT

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults and env apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("staging.root", internal.DefaultStagingRoot)
	v.SetDefault("staging.chunkLimit", internal.DefaultChunkLimit)
	v.SetDefault("staging.minDatasetSize", internal.DefaultMinDatasetSize)
	v.SetDefault("staging.copyWorkers", internal.DefaultCopyWorkers)
	v.SetDefault("staging.moveWorkers", internal.DefaultMoveWorkers)
	v.SetDefault("staging.labelSizing", "estimate")
	v.SetDefault("staging.cleanupOnFailure", false)
	v.SetDefault("staging.resetStaging", true)
	v.SetDefault("staging.keepStaging", false)
	v.SetDefault("staging.preservePerms", false)
	v.SetDefault("staging.preserveTimes", false)

	v.SetDefault("platform.baseURL", "")
	v.SetDefault("platform.projectID", "")
	v.SetDefault("platform.apiKey", "")
	v.SetDefault("platform.timeoutSeconds", 60)
	v.SetDefault("platform.acceptStatus", internal.DefaultAcceptStatus)

	v.SetDefault("log.level", internal.DefaultLogLevel)
	v.SetDefault("log.format", "console")
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Staging.ChunkLimit <= 0 {
		return fmt.Errorf("staging.chunkLimit must be positive, got %d", c.Staging.ChunkLimit)
	}
	if c.Staging.MinDatasetSize < 0 {
		return fmt.Errorf("staging.minDatasetSize must not be negative, got %d", c.Staging.MinDatasetSize)
	}
	if c.Staging.CopyWorkers <= 0 || c.Staging.MoveWorkers <= 0 {
		return fmt.Errorf("worker counts must be positive")
	}
	switch c.Staging.LabelSizing {
	case "estimate", "measured":
	default:
		return fmt.Errorf("staging.labelSizing must be \"estimate\" or \"measured\", got %q", c.Staging.LabelSizing)
	}
	return nil
}
