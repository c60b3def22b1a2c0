package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "CACHEADMIN"

type Config struct {
	Redis     RedisConfig `mapstructure:"redis"`
	Purge     PurgeConfig `mapstructure:"purge"`
	TagPrefix string      `mapstructure:"tag_prefix"`
	Verbose   bool        `mapstructure:"verbose"`
}

type RedisConfig struct {
	// Every endpoint is purged; tag and counter commands use the first.
	Addrs    []string `mapstructure:"addrs"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
}

type PurgeConfig struct {
	ScanCount   int64 `mapstructure:"scan_count"`
	DeleteBatch int   `mapstructure:"delete_batch"`
}

func (c Config) Validate() error {
	if len(c.Redis.Addrs) == 0 {
		return errors.New("redis.addrs must list at least one endpoint")
	}
	if c.Purge.ScanCount <= 0 {
		return errors.New("purge.scan_count must be positive")
	}
	if c.Purge.DeleteBatch <= 0 {
		return errors.New("purge.delete_batch must be positive")
	}
	return nil
}

// loadConfig reads defaults, then the optional file at path, then
// CACHEADMIN_* env vars (CACHEADMIN_REDIS_ADDRS=a:6379,b:6379).
func loadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("redis.addrs", []string{"127.0.0.1:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("purge.scan_count", 1000)
	v.SetDefault("purge.delete_batch", 10_000)
	v.SetDefault("tag_prefix", "tagset:")
	v.SetDefault("verbose", false)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
