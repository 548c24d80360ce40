package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/solebridge/internal/device"
	"github.com/srg/solebridge/internal/protocol"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration. It is fixed at startup.
type Config struct {
	LeftName  string `yaml:"left_name" default:"ESP32_LeftFoot"`
	RightName string `yaml:"right_name" default:"ESP32_RightFoot"`

	ServiceUUID string `yaml:"service_uuid" default:"4fafc2011fb5459e8fccc5c9c331914c"`
	NotifyUUID  string `yaml:"notify_uuid" default:"beb5483e36e14688b7f5ea07361b26a9"`
	// WriteUUID may be set to "" for firmware without an actuator.
	WriteUUID string `yaml:"write_uuid" default:"beb5483e36e14688b7f5ea07361b26aa"`

	Host           string   `yaml:"host" default:""`
	Port           int      `yaml:"port" default:"3000"`
	PortAttempts   int      `yaml:"port_attempts" default:"20"`
	StaticDir      string   `yaml:"static_dir" default:""`
	AllowedOrigins []string `yaml:"allowed_origins"`

	WireFormat  string `yaml:"wire_format" default:"binary"`
	FrameValues int    `yaml:"frame_values" default:"0"`

	ScanRestartDelay time.Duration `yaml:"scan_restart_delay" default:"2s"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"30s"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" default:"5s"`
	ViewerQueue      uint32        `yaml:"viewer_queue" default:"64"`
	// CommandRate is the per-viewer command budget per second; 0 disables it.
	CommandRate  float64 `yaml:"command_rate" default:"20"`
	CommandBurst int     `yaml:"command_burst" default:"10"`

	LogLevel string `yaml:"log_level" default:"info"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values the bridge cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LeftName) == "" || strings.TrimSpace(c.RightName) == "" {
		return fmt.Errorf("left_name and right_name cannot be empty")
	}
	if c.LeftName == c.RightName {
		return fmt.Errorf("left_name and right_name must differ, both are %q", c.LeftName)
	}

	uuids := []string{c.ServiceUUID, c.NotifyUUID}
	if c.WriteUUID != "" {
		uuids = append(uuids, c.WriteUUID)
	}
	if _, err := device.ValidateUUID(uuids...); err != nil {
		return fmt.Errorf("invalid UUID: %w", err)
	}

	if _, err := c.Decoder(); err != nil {
		return err
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.PortAttempts <= 0 {
		return fmt.Errorf("port_attempts must be > 0")
	}
	if c.ScanRestartDelay <= 0 || c.ConnectTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("scan_restart_delay, connect_timeout and shutdown_timeout must be > 0")
	}
	if c.ViewerQueue == 0 {
		return fmt.Errorf("viewer_queue must be > 0")
	}
	if c.CommandRate < 0 || c.CommandBurst < 0 {
		return fmt.Errorf("command_rate and command_burst must be >= 0")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Decoder builds the frame decoder for the configured wire format. A zero
// frame_values uses the format's default.
func (c *Config) Decoder() (*protocol.Decoder, error) {
	format, err := protocol.ParseFormat(c.WireFormat)
	if err != nil {
		return nil, err
	}
	if c.FrameValues < 0 {
		return nil, fmt.Errorf("frame_values must be >= 0, got %d", c.FrameValues)
	}
	return protocol.NewDecoder(format, c.FrameValues)
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return logrus.DebugLevel, nil
	case "info", "":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	level, err := c.Level()
	logger := logrus.New()
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	if err != nil {
		logger.WithField("error", err).Warn("Falling back to info log level")
	}
	return logger
}
