package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/solebridge/pkg/config"
)

// configureLogger creates a logger for cfg. --log-level takes precedence over
// --verbose, which takes precedence over the config file.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	logLevelStr, _ := cmd.Flags().GetString("log-level")
	verbose, _ := cmd.Flags().GetBool("verbose")

	switch {
	case logLevelStr != "":
		cfg.LogLevel = logLevelStr
	case verbose:
		cfg.LogLevel = "debug"
	}

	if _, err := cfg.Level(); err != nil {
		return nil, err
	}

	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	return logger, nil
}

// loadConfig reads --config and applies the command's flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if f := flags.Lookup(name); f != nil && f.Changed {
			*dst, _ = flags.GetString(name)
		}
	}
	str("left-name", &cfg.LeftName)
	str("right-name", &cfg.RightName)
	str("service-uuid", &cfg.ServiceUUID)
	str("host", &cfg.Host)
	str("static-dir", &cfg.StaticDir)
	str("wire-format", &cfg.WireFormat)

	if f := flags.Lookup("port"); f != nil && f.Changed {
		cfg.Port, _ = flags.GetInt("port")
	}
	if f := flags.Lookup("frame-values"); f != nil && f.Changed {
		cfg.FrameValues, _ = flags.GetInt("frame-values")
	}
	if f := flags.Lookup("allow-origin"); f != nil && f.Changed {
		cfg.AllowedOrigins, _ = flags.GetStringSlice("allow-origin")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
