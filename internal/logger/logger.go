// Package logger configures the process-wide logrus logger.  Components
// receive a logrus.FieldLogger so tests can swap in a capturing hook.
package logger

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// New builds a logger writing to stdout.  format is "json" (default) or
// "text"; an unknown level falls back to info.
func New(level, format string) *log.Logger {
	return newWithOutput(os.Stdout, level, format)
}

func newWithOutput(w io.Writer, level, format string) *log.Logger {
	l := log.New()
	l.SetOutput(w)
	if format == "text" {
		l.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05Z07:00",
		})
	} else {
		// JSON with ISO 8601 timestamps
		l.SetFormatter(&log.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05Z07:00",
		})
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// Component returns an entry tagged with the component name.
func Component(l log.FieldLogger, name string) log.FieldLogger {
	return l.WithField("component", name)
}
