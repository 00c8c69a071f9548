package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment variables read by Init.
const (
	LevelEnv  = "UNTRUNC_LOG_LEVEL"
	FormatEnv = "UNTRUNC_LOG_FORMAT"
)

// Init initializes the global logger from the environment.
// UNTRUNC_LOG_LEVEL controls the level: debug, info, warn, error (default: info).
// UNTRUNC_LOG_FORMAT selects console output; anything else logs JSON so
// CloudWatch receives structured lines.
func Init() {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv(LevelEnv)))
	log.Logger = zerolog.New(writerFor(os.Getenv(FormatEnv), os.Stderr)).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func writerFor(format string, out io.Writer) io.Writer {
	if strings.EqualFold(format, "console") {
		return zerolog.ConsoleWriter{Out: out}
	}
	return out
}
