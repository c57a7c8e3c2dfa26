// Package config loads simrun settings from file and environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Tools    ToolsConfig
	Cache    CacheConfig
	Timeouts TimeoutConfig
	Run      RunConfig
	Log      LogConfig
}

// ToolsConfig holds external tool paths. Tests point these at fakes.
type ToolsConfig struct {
	Xcrun      string
	Xcodebuild string
	Open       string
	PlistBuddy string
}

// CacheConfig holds per-cache TTLs.
type CacheConfig struct {
	DevicesTTL   time.Duration `mapstructure:"devices_ttl"`
	ContainerTTL time.Duration `mapstructure:"container_ttl"`
	SchemesTTL   time.Duration `mapstructure:"schemes_ttl"`
}

// TimeoutConfig holds per-command timeouts and the boot poll interval.
type TimeoutConfig struct {
	SchemeList time.Duration `mapstructure:"scheme_list"`
	BootWait   time.Duration `mapstructure:"boot_wait"`
	BootPoll   time.Duration `mapstructure:"boot_poll"`
	Build      time.Duration `mapstructure:"build"`
}

// RunConfig holds build artifact locations and failure retention.
type RunConfig struct {
	TempRoot         string `mapstructure:"temp_root"`
	FailureRetention int    `mapstructure:"failure_retention"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
}

// Load reads configuration from file and env. Env var overrides use prefix SIMRUN_.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("tools.xcrun", "xcrun")
	v.SetDefault("tools.xcodebuild", "xcodebuild")
	v.SetDefault("tools.open", "open")
	v.SetDefault("tools.plistbuddy", "/usr/libexec/PlistBuddy")
	v.SetDefault("cache.devices_ttl", 800*time.Millisecond)
	v.SetDefault("cache.container_ttl", 10*time.Minute)
	v.SetDefault("cache.schemes_ttl", 10*time.Minute)
	v.SetDefault("timeouts.scheme_list", 10*time.Second)
	v.SetDefault("timeouts.boot_wait", 10*time.Second)
	v.SetDefault("timeouts.boot_poll", 500*time.Millisecond)
	v.SetDefault("timeouts.build", time.Duration(0))
	v.SetDefault("run.temp_root", filepath.Join(os.TempDir(), "simrun"))
	v.SetDefault("run.failure_retention", 3)
	v.SetDefault("log.level", "info")

	v.SetConfigType("yaml")

	cfgPath := os.Getenv("SIMRUN_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "simrun"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("SIMRUN")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

// Default returns the built-in configuration without touching file or env.
// Tests use this as a baseline and override the tool paths.
func Default() Config {
	return Config{
		Tools: ToolsConfig{
			Xcrun:      "xcrun",
			Xcodebuild: "xcodebuild",
			Open:       "open",
			PlistBuddy: "/usr/libexec/PlistBuddy",
		},
		Cache: CacheConfig{
			DevicesTTL:   800 * time.Millisecond,
			ContainerTTL: 10 * time.Minute,
			SchemesTTL:   10 * time.Minute,
		},
		Timeouts: TimeoutConfig{
			SchemeList: 10 * time.Second,
			BootWait:   10 * time.Second,
			BootPoll:   500 * time.Millisecond,
		},
		Run: RunConfig{
			TempRoot:         filepath.Join(os.TempDir(), "simrun"),
			FailureRetention: 3,
		},
		Log: LogConfig{Level: "info"},
	}
}
