// Package config loads the panel configuration from a YAML file and
// GASMIX_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GASMIX_SERIAL_PORT.
const EnvPrefix = "GASMIX"

// SerialConfig selects and tunes the controller's serial device.
type SerialConfig struct {
	Port        string        `mapstructure:"port"`
	BaudRate    int           `mapstructure:"baudRate"`
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
	// Fallback allows the unbuffered direct link when the buffered
	// transport cannot start.
	Fallback bool `mapstructure:"fallback"`
}

// PanelConfig tunes the polling step.
type PanelConfig struct {
	PollPeriod time.Duration `mapstructure:"pollPeriod"`
	// Console enables the line-oriented operator console on stdin.
	Console bool `mapstructure:"console"`
}

// LogFileConfig configures log rotation. An empty Filename logs to stderr.
type LogFileConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig selects the log level, format and destination.
type LoggingConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	File   LogFileConfig `mapstructure:"file"`
}

// MQTTConfig configures the telemetry publisher. An empty Broker disables
// it.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	UseTLS      bool   `mapstructure:"useTLS"`
	ClientID    string `mapstructure:"clientID"`
	TopicPrefix string `mapstructure:"topicPrefix"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables
// it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
}

// Config is the top-level configuration.
type Config struct {
	Serial  SerialConfig  `mapstructure:"serial"`
	Panel   PanelConfig   `mapstructure:"panel"`
	Logging LoggingConfig `mapstructure:"logging"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// Load reads the configuration from path, or from gasmix.yaml in the working
// directory or /etc/gasmix when path is empty. A missing file is not an
// error; defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/gasmix")
		v.SetConfigName("gasmix")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baudRate must be positive, got %d", c.Serial.BaudRate)
	}
	if c.Serial.ReadTimeout <= 0 {
		return fmt.Errorf("serial.readTimeout must be positive, got %s", c.Serial.ReadTimeout)
	}
	if c.Panel.PollPeriod <= 0 {
		return fmt.Errorf("panel.pollPeriod must be positive, got %s", c.Panel.PollPeriod)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "/dev/ttyACM0")
	v.SetDefault("serial.baudRate", 9600)
	v.SetDefault("serial.readTimeout", "50ms")
	v.SetDefault("serial.fallback", true)

	v.SetDefault("panel.pollPeriod", "50ms")
	v.SetDefault("panel.console", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 20)
	v.SetDefault("logging.file.maxBackups", 5)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.useTLS", false)
	v.SetDefault("mqtt.clientID", "")
	v.SetDefault("mqtt.topicPrefix", "gasmix")

	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.path", "/metrics")
}
