// Package logging builds the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/swarmguard/artemis/internal/config"
)

// Init configures the global slog logger from env vars and the loaded
// config's logging block, and returns it bound with a service name.
func Init(service string, cfg config.LoggingCfg) *slog.Logger {
	w := writerFor(cfg)
	level := levelFromEnv()

	var handler slog.Handler
	opts := &slog.HandlerOptions{AddSource: cfg.IncludeCaller, Level: level}
	if jsonMode() || cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	logger.Info("logging initialized", "json", jsonMode() || cfg.Format == "json", "output", cfg.Output)
	return logger
}

func writerFor(cfg config.LoggingCfg) io.Writer {
	if cfg.Output != "file" {
		return os.Stdout
	}
	dir := cfg.FileConfig.Dir
	if dir == "" {
		dir = "./logs"
	}
	name := cfg.FileConfig.Filename
	if name == "" {
		name = "artemis"
	}
	lj := &lumberjack.Logger{
		Filename: dir + "/" + name + ".log",
		MaxSize:  100,
		Compress: true,
	}
	if cfg.RotateConfig.CleanupEnabled {
		lj.MaxAge = parseDaysFromDuration(cfg.RotateConfig.MaxAge, 3)
		lj.MaxBackups = 10
	}
	return lj
}

// parseDaysFromDuration accepts strings like "72h" and returns whole days,
// matching the original config's string-duration style for max_age.
func parseDaysFromDuration(s string, fallbackDays int) int {
	s = strings.TrimSpace(strings.ToLower(s))
	if strings.HasSuffix(s, "h") {
		hours, err := strconv.Atoi(strings.TrimSuffix(s, "h"))
		if err == nil && hours > 0 {
			days := hours / 24
			if days <= 0 {
				days = 1
			}
			return days
		}
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err == nil && days > 0 {
			return days
		}
	}
	return fallbackDays
}

func jsonMode() bool {
	mode := strings.ToLower(os.Getenv("ARTEMIS_JSON_LOG"))
	return mode == "1" || mode == "true" || mode == "json"
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("ARTEMIS_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
