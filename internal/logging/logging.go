// Package logging builds the structured logger shared by every taskbeat
// process (beat, worker, cdc-consumer, and the CLI).
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New constructs a logrus.Logger configured from level/format strings taken
// from CLI flags or environment variables. Unknown levels fall back to info
// rather than failing startup.
func New(level, format string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return log
}

// Component returns a logger scoped with a "component" field, the
// convention every package in this repo uses to tag its log lines.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}
