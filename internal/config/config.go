package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"server"`

	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Evaluator struct {
		IntervalSec int `mapstructure:"interval_sec"`
		// LagSec keeps the evaluation window a little behind wall clock
		// so late-arriving samples still land inside it.
		LagSec int `mapstructure:"lag_sec"`
	} `mapstructure:"evaluator"`

	Rollup struct {
		IntervalSec int `mapstructure:"interval_sec"`
		BucketSec   int `mapstructure:"bucket_sec"`
		// LookbackSec bounds the first compaction run so it does not
		// scan all of history.
		LookbackSec int `mapstructure:"lookback_sec"`
	} `mapstructure:"rollup"`

	Retention struct {
		IntervalSec int `mapstructure:"interval_sec"`
		SampleDays  int `mapstructure:"sample_days"`
		AlertDays   int `mapstructure:"alert_days"`
	} `mapstructure:"retention"`
}

func (c *Config) EvaluatorInterval() time.Duration {
	return time.Duration(c.Evaluator.IntervalSec) * time.Second
}

func (c *Config) EvaluationLag() time.Duration {
	return time.Duration(c.Evaluator.LagSec) * time.Second
}

func (c *Config) RollupInterval() time.Duration {
	return time.Duration(c.Rollup.IntervalSec) * time.Second
}

func (c *Config) RollupBucket() time.Duration {
	return time.Duration(c.Rollup.BucketSec) * time.Second
}

func (c *Config) RollupLookback() time.Duration {
	return time.Duration(c.Rollup.LookbackSec) * time.Second
}

func (c *Config) RetentionInterval() time.Duration {
	return time.Duration(c.Retention.IntervalSec) * time.Second
}

// Load reads config.yaml from the working directory, falling back to
// defaults when the file is absent.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.path", "data/perfeye.db")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("evaluator.interval_sec", 15)
	viper.SetDefault("evaluator.lag_sec", 5)
	viper.SetDefault("rollup.interval_sec", 60)
	viper.SetDefault("rollup.bucket_sec", 300)
	viper.SetDefault("rollup.lookback_sec", 2*3600)
	viper.SetDefault("retention.interval_sec", 3600)
	viper.SetDefault("retention.sample_days", 7)
	viper.SetDefault("retention.alert_days", 30)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Evaluator.IntervalSec < 1 {
		cfg.Evaluator.IntervalSec = 1
	}
	if cfg.Evaluator.LagSec < 0 {
		cfg.Evaluator.LagSec = 0
	}
	if cfg.Rollup.BucketSec < 1 {
		cfg.Rollup.BucketSec = 1
	}

	return &cfg, nil
}
