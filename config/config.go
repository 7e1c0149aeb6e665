// Package config loads reflector configuration from YAML files and the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/opd-ai/reflector"
	"github.com/opd-ai/reflector/client"
	"github.com/opd-ai/reflector/talker"
)

// EnvPrefix prefixes environment overrides, e.g. SVXREFLECTOR_AUTH_KEY.
const EnvPrefix = "SVXREFLECTOR"

// Config is the root application configuration.
type Config struct {
	// ListenHost restricts the bind address. Empty listens on all interfaces.
	ListenHost string `mapstructure:"listen_host"`

	// ListenPort is shared by the TCP and UDP sockets.
	ListenPort int `mapstructure:"listen_port"`

	// AuthKey is the shared secret of all nodes.
	AuthKey string `mapstructure:"auth_key"`

	// SquelchTimeout is the longest transmission in seconds (ticks). Zero disables it.
	SquelchTimeout uint `mapstructure:"sql_timeout"`

	// SquelchBlockTime is how long, in seconds, a node is blocked after a
	// squelch timeout. Values below 1 are raised to 1.
	SquelchBlockTime int `mapstructure:"sql_timeout_blocktime"`

	AudioTimeout time.Duration `mapstructure:"audio_timeout"`
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// HTTPListen is the status server address. Empty disables it.
	HTTPListen string `mapstructure:"http_listen"`

	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Log       LogConfig       `mapstructure:"log"`
}

// HeartbeatConfig controls session liveness.
type HeartbeatConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	ReliableTimeout time.Duration `mapstructure:"reliable_timeout"`
	UDPInterval     time.Duration `mapstructure:"udp_interval"`
	UDPTimeout      time.Duration `mapstructure:"udp_timeout"`
	SendQueueSize   int           `mapstructure:"send_queue_size"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: text or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with defaults. AuthKey is left empty.
func Default() *Config {
	hb := client.DefaultConfig()
	return &Config{
		ListenPort:       5300,
		SquelchBlockTime: int(reflector.DefaultSquelchBlockTime / time.Second),
		AudioTimeout:     talker.DefaultAudioTimeout,
		TickInterval:     reflector.DefaultTickInterval,
		Heartbeat: HeartbeatConfig{
			Interval:        hb.HeartbeatInterval,
			ReliableTimeout: hb.ReliableTimeout,
			UDPInterval:     hb.UDPHeartbeatInterval,
			UDPTimeout:      hb.UDPTimeout,
			SendQueueSize:   hb.SendQueueSize,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "text",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/svxreflector.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from path if non-empty, otherwise from
// SVXREFLECTOR_CONFIG or the first svxreflector.yaml found in the working
// directory, ./configs or ~/.svxreflector. A missing file is not an error.
// Environment variables override file values: SVXREFLECTOR_LOG_LEVEL=debug.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Every key needs a default so env-only configs are unmarshalled.
	v.SetDefault("listen_host", cfg.ListenHost)
	v.SetDefault("listen_port", cfg.ListenPort)
	v.SetDefault("auth_key", cfg.AuthKey)
	v.SetDefault("sql_timeout", cfg.SquelchTimeout)
	v.SetDefault("sql_timeout_blocktime", cfg.SquelchBlockTime)
	v.SetDefault("audio_timeout", cfg.AudioTimeout)
	v.SetDefault("tick_interval", cfg.TickInterval)
	v.SetDefault("http_listen", cfg.HTTPListen)
	v.SetDefault("heartbeat.interval", cfg.Heartbeat.Interval)
	v.SetDefault("heartbeat.reliable_timeout", cfg.Heartbeat.ReliableTimeout)
	v.SetDefault("heartbeat.udp_interval", cfg.Heartbeat.UDPInterval)
	v.SetDefault("heartbeat.udp_timeout", cfg.Heartbeat.UDPTimeout)
	v.SetDefault("heartbeat.send_queue_size", cfg.Heartbeat.SendQueueSize)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("svxreflector")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".svxreflector"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.AuthKey {
	case "":
		return reflector.ErrMissingAuthKey
	case reflector.PlaceholderAuthKey:
		return reflector.ErrPlaceholderAuthKey
	}

	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return fmt.Errorf("invalid listen_port: %d", c.ListenPort)
	}

	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text":
		c.Log.Format = "text"
	case "json":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	if c.SquelchBlockTime < 1 {
		c.SquelchBlockTime = 1
	}
	if c.TickInterval <= 0 {
		c.TickInterval = reflector.DefaultTickInterval
	}
	if c.AudioTimeout <= 0 {
		c.AudioTimeout = talker.DefaultAudioTimeout
	}
	return nil
}

// ListenAddr returns the host:port shared by TCP and UDP.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.ListenPort))
}

// Options converts the configuration into reflector options.
func (c *Config) Options() *reflector.Options {
	o := reflector.NewOptions()
	o.ListenAddr = c.ListenAddr()
	o.AuthKey = c.AuthKey
	o.AudioTimeout = c.AudioTimeout
	o.TickInterval = c.TickInterval
	o.SquelchTimeout = c.SquelchTimeout
	o.SquelchBlockTime = time.Duration(c.SquelchBlockTime) * time.Second
	o.Client = client.Config{
		AuthKey:              c.AuthKey,
		HeartbeatInterval:    c.Heartbeat.Interval,
		ReliableTimeout:      c.Heartbeat.ReliableTimeout,
		UDPHeartbeatInterval: c.Heartbeat.UDPInterval,
		UDPTimeout:           c.Heartbeat.UDPTimeout,
		SendQueueSize:        c.Heartbeat.SendQueueSize,
	}
	return o
}
