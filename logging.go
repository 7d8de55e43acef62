package bake

import (
	"log/slog"
	"os"
)

var logLevel = new(slog.LevelVar)

// ConfigureLogging installs a slog.TextHandler on os.Stdout as the default
// logger and sets its level from the BAKE_LOG_LEVEL environment variable
// (DEBUG, WARN, ERROR; anything else defaults to INFO). Callers that embed
// the provider in a larger host process may skip this and configure their
// own slog.Default() instead.
func ConfigureLogging() {
	logLevel.Set(slog.LevelInfo)
	switch os.Getenv("BAKE_LOG_LEVEL") {
	case "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "WARN":
		logLevel.Set(slog.LevelWarn)
	case "ERROR":
		logLevel.Set(slog.LevelError)
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}

// SetLogLevel overrides the level set by ConfigureLogging at runtime.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}
