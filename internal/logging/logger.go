// Package logging configures the process-wide slog logger from the
// environment.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	// EnvFormat selects the handler: json or text.
	EnvFormat = "LOG_FORMAT"
	// EnvLevel sets the minimum level: debug, info, warn or error.
	EnvLevel = "LOG_LEVEL"
	// EnvSource adds the calling file and line to every record when "1".
	EnvSource = "LOG_SOURCE"

	AppName = "workspace-audit"

	defaultFormat = "json"
)

type Config struct {
	Format    string
	Level     slog.Level
	AddSource bool
}

type BootstrapOptions struct {
	Command string
	Writer  io.Writer
}

func DefaultConfig() Config {
	return Config{Format: defaultFormat, Level: slog.LevelInfo}
}

// LoadConfigFromEnv parses the logging variables. Unknown values are errors
// so a typo is not silently ignored.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	switch format := strings.ToLower(strings.TrimSpace(os.Getenv(EnvFormat))); format {
	case "":
	case "json", "text":
		cfg.Format = format
	default:
		return Config{}, fmt.Errorf("%s must be one of: json, text", EnvFormat)
	}

	switch level := strings.ToLower(strings.TrimSpace(os.Getenv(EnvLevel))); level {
	case "":
	case "debug":
		cfg.Level = slog.LevelDebug
	case "info":
		cfg.Level = slog.LevelInfo
	case "warn", "warning":
		cfg.Level = slog.LevelWarn
	case "error":
		cfg.Level = slog.LevelError
	default:
		return Config{}, fmt.Errorf("%s must be one of: debug, info, warn, error", EnvLevel)
	}

	cfg.AddSource = strings.TrimSpace(os.Getenv(EnvSource)) == "1"
	return cfg, nil
}

// NewLogger builds a logger that tags every record with the app name and the
// cobra command path.
func NewLogger(cfg Config, writer io.Writer, command string) *slog.Logger {
	if writer == nil {
		writer = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "text") {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}

	command = strings.TrimSpace(command)
	if command == "" {
		command = AppName
	}
	return slog.New(handler).With("app", AppName, "command", command)
}

// BootstrapFromEnv installs the environment-configured logger as the default.
func BootstrapFromEnv(opts BootstrapOptions) (*slog.Logger, error) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	logger := NewLogger(cfg, opts.Writer, opts.Command)
	slog.SetDefault(logger)
	return logger, nil
}
