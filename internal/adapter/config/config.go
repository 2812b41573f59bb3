// Package config loads runtime configuration for the plant simulator and
// the control panel. Values come from config.yaml, environment variables
// (HVAC_ prefix), and defaults, in ascending priority.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nexus-edge/hvac-control/internal/domain"
)

// Config holds all configuration for both binaries. Each binary reads
// only its own section plus the shared ones.
type Config struct {
	Log   LogConfig   `mapstructure:"log"`
	Fleet FleetConfig `mapstructure:"fleet"`
	Plant PlantConfig `mapstructure:"plant"`
	Panel PanelConfig `mapstructure:"panel"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// FleetConfig points at the fleet descriptor file.
type FleetConfig struct {
	Path string `mapstructure:"path"`
}

// PlantConfig holds the plant simulator's configuration.
type PlantConfig struct {
	// Listen is the Modbus TCP listen address.
	Listen     string `mapstructure:"listen"`
	MaxClients uint   `mapstructure:"max_clients"`

	ControlInterval time.Duration `mapstructure:"control_interval"`
	MirrorInterval  time.Duration `mapstructure:"mirror_interval"`

	// HTTPListen serves /metrics and the health endpoints.
	HTTPListen string `mapstructure:"http_listen"`
}

// PanelConfig holds the control panel's configuration.
type PanelConfig struct {
	// Endpoint is the plant's Modbus TCP address.
	Endpoint string `mapstructure:"endpoint"`

	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`

	PollInterval time.Duration `mapstructure:"poll_interval"`

	// HTTPListen serves the JSON API, /metrics and the health endpoints.
	HTTPListen string `mapstructure:"http_listen"`

	MQTT PanelMQTTConfig `mapstructure:"mqtt"`
}

// PanelMQTTConfig holds the optional MQTT telemetry settings.
type PanelMQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/hvac-control")

	// The config file is optional; defaults plus env vars are a complete
	// configuration.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("HVAC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Fleet
	v.SetDefault("fleet.path", "units.yaml")

	// Plant simulator
	v.SetDefault("plant.listen", "0.0.0.0:5020")
	v.SetDefault("plant.max_clients", 10)
	v.SetDefault("plant.control_interval", 500*time.Millisecond)
	v.SetDefault("plant.mirror_interval", 500*time.Millisecond)
	v.SetDefault("plant.http_listen", ":8081")

	// Panel
	v.SetDefault("panel.endpoint", "127.0.0.1:5020")
	v.SetDefault("panel.timeout", 2*time.Second)
	v.SetDefault("panel.retry_count", 1)
	v.SetDefault("panel.retry_delay", 250*time.Millisecond)
	v.SetDefault("panel.poll_interval", 2500*time.Millisecond)
	v.SetDefault("panel.http_listen", ":8000")

	// Panel MQTT (off unless configured)
	v.SetDefault("panel.mqtt.enabled", false)
	v.SetDefault("panel.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("panel.mqtt.client_id", "hvac-panel")
	v.SetDefault("panel.mqtt.topic_prefix", "hvac")
	v.SetDefault("panel.mqtt.qos", 1)
}

// bindEnvVars binds the short operator-facing variable names on top of
// the automatic HVAC_* bindings.
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.format", "LOG_FORMAT")
	_ = v.BindEnv("fleet.path", "FLEET_PATH")
	_ = v.BindEnv("plant.listen", "PLANT_LISTEN")
	_ = v.BindEnv("panel.endpoint", "PANEL_ENDPOINT")
	_ = v.BindEnv("panel.mqtt.broker", "MQTT_BROKER_URL")
	_ = v.BindEnv("panel.mqtt.client_id", "MQTT_CLIENT_ID")
}

// Validate checks the configuration for values no deployment can run
// with.
func (c *Config) Validate() error {
	if c.Plant.Listen == "" {
		return fmt.Errorf("%w: plant.listen is required", domain.ErrInvalidConfig)
	}
	if c.Plant.MaxClients == 0 {
		return fmt.Errorf("%w: plant.max_clients must be positive", domain.ErrInvalidConfig)
	}
	if c.Plant.ControlInterval <= 0 {
		return fmt.Errorf("%w: plant.control_interval must be positive", domain.ErrInvalidConfig)
	}
	if c.Plant.MirrorInterval <= 0 {
		return fmt.Errorf("%w: plant.mirror_interval must be positive", domain.ErrInvalidConfig)
	}

	if c.Panel.Endpoint == "" {
		return fmt.Errorf("%w: panel.endpoint is required", domain.ErrInvalidConfig)
	}
	if c.Panel.Timeout <= 0 {
		return fmt.Errorf("%w: panel.timeout must be positive", domain.ErrInvalidConfig)
	}
	if c.Panel.RetryCount < 0 {
		return fmt.Errorf("%w: panel.retry_count must not be negative", domain.ErrInvalidConfig)
	}
	if c.Panel.PollInterval <= 0 {
		return fmt.Errorf("%w: panel.poll_interval must be positive", domain.ErrInvalidConfig)
	}

	if c.Panel.MQTT.Enabled && c.Panel.MQTT.Broker == "" {
		return fmt.Errorf("%w: panel.mqtt.broker is required when MQTT is enabled", domain.ErrInvalidConfig)
	}
	if c.Panel.MQTT.QoS > 2 {
		return fmt.Errorf("%w: panel.mqtt.qos %d outside [0, 2]", domain.ErrInvalidConfig, c.Panel.MQTT.QoS)
	}

	return nil
}
