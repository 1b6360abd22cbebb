package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init builds the process logger, sets the global level and installs it as
// zerolog's default. Unknown levels fall back to info. Under a service manager
// timestamps are left to the journal.
func Init(level string, service bool) zerolog.Logger {
	return New(os.Stdout, level, service)
}

func New(out io.Writer, level string, service bool) zerolog.Logger {
	w := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	if service {
		w.NoColor = true
		w.FormatTimestamp = func(_ interface{}) string { return "" }
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	l := zerolog.New(w).With().Timestamp().Logger()
	log.Logger = l
	if err != nil {
		l.Warn().Str("level", level).Msg("unknown log level, using info")
	}
	return l
}

// IsService reports whether the process looks like it was started by a
// service manager rather than from a terminal.
func IsService() bool {
	if os.Getenv("INVOCATION_ID") != "" || os.Getenv("SERVICE_NAME") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}
	fi, err := os.Stdin.Stat()
	if err != nil {
		return true
	}
	return fi.Mode()&os.ModeCharDevice == 0 && fi.Mode()&os.ModeNamedPipe == 0
}
