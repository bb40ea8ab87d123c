package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Conference
	CID            int           `env:"OD_CID" default:"111"`
	MulticastGroup string        `env:"OD_MULTICAST_GROUP" default:"225.0.0.<cid>"`
	AdvertiseIP    string        `env:"OD_ADVERTISE_IP" default:"127.0.0.1"`
	DisableConf    bool          `env:"OD_DISABLE_CONFERENCE" default:"false"`
	PulseInterval  time.Duration `env:"OD_PULSE_INTERVAL" default:"0s"`

	// Service Ports
	DiscoveryPort      int `env:"OD_DISCOVERY_PORT" default:"19751"`
	DiscoveryReplyPort int `env:"OD_DISCOVERY_REPLY_PORT" default:"0"`
	ConnectionPort     int `env:"OD_CONNECTION_PORT" default:"19866"`
	ConferencePort     int `env:"OD_CONFERENCE_PORT" default:"12175"`
	HTTPPort           int `env:"OD_HTTP_PORT" default:"8080"`

	// Supercomponent
	ConfigurationFile   string        `env:"OD_CONFIGURATION_FILE" default:"./configuration"`
	IgnoreModules       []string      `env:"OD_IGNORE_MODULES"`
	RegistrationTimeout time.Duration `env:"OD_REGISTRATION_TIMEOUT" default:"5s"`

	// Redis mirror, empty disables it
	RedisURL string `env:"REDIS_URL"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

// LoadConfig loads configuration from a .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, system env vars still apply
	_ = godotenv.Load(".env")

	config := &Config{}

	if err := loadEnvInt(&config.CID, "OD_CID", 111); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.MulticastGroup, "OD_MULTICAST_GROUP", fmt.Sprintf("225.0.0.%d", config.CID)); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.AdvertiseIP, "OD_ADVERTISE_IP", "127.0.0.1"); err != nil {
		return nil, err
	}
	if err := loadEnvBool(&config.DisableConf, "OD_DISABLE_CONFERENCE", false); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.PulseInterval, "OD_PULSE_INTERVAL", 0); err != nil {
		return nil, err
	}

	// Ports
	if err := loadEnvInt(&config.DiscoveryPort, "OD_DISCOVERY_PORT", 19751); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.DiscoveryReplyPort, "OD_DISCOVERY_REPLY_PORT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.ConnectionPort, "OD_CONNECTION_PORT", 19866); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.ConferencePort, "OD_CONFERENCE_PORT", 12175); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.HTTPPort, "OD_HTTP_PORT", 8080); err != nil {
		return nil, err
	}

	// Supercomponent
	if err := loadEnvString(&config.ConfigurationFile, "OD_CONFIGURATION_FILE", "./configuration"); err != nil {
		return nil, err
	}
	if err := loadEnvStringSlice(&config.IgnoreModules, "OD_IGNORE_MODULES", nil); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.RegistrationTimeout, "OD_REGISTRATION_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}

	if err := loadEnvString(&config.RedisURL, "REDIS_URL", ""); err != nil {
		return nil, err
	}

	// Logging
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "text"); err != nil {
		return nil, err
	}
	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvBool(target *bool, key string, defaultValue bool) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvStringSlice(target *[]string, key string, defaultValue []string) error {
	if value := os.Getenv(key); value != "" {
		*target = nil
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				*target = append(*target, v)
			}
		}
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if c.CID < 2 || c.CID > 254 {
		errors = append(errors, "OD_CID must be between 2 and 254")
	}

	// Ports; discovery reply 0 picks a free port
	ports := []struct {
		name  string
		value int
		zero  bool
	}{
		{"OD_DISCOVERY_PORT", c.DiscoveryPort, false},
		{"OD_DISCOVERY_REPLY_PORT", c.DiscoveryReplyPort, true},
		{"OD_CONNECTION_PORT", c.ConnectionPort, false},
		{"OD_CONFERENCE_PORT", c.ConferencePort, false},
		{"OD_HTTP_PORT", c.HTTPPort, false},
	}
	for _, p := range ports {
		if p.zero && p.value == 0 {
			continue
		}
		if p.value < 1 || p.value > 65535 {
			errors = append(errors, fmt.Sprintf("%s must be between 1 and 65535", p.name))
		}
	}

	if c.RegistrationTimeout <= 0 {
		errors = append(errors, "OD_REGISTRATION_TIMEOUT must be positive")
	}
	if c.PulseInterval < 0 {
		errors = append(errors, "OD_PULSE_INTERVAL must not be negative")
	}

	// Validate log level
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}

	// Validate log format
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
