// Package nexuslog centralizes logging setup: one logrus logger per run,
// handed out as component-scoped entries the way rclone's fs.Logf
// attaches a "what" field to every call site.
package nexuslog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the run's root logger. dest is "stdout" or a file path;
// level is parsed with logrus.ParseLevel, falling back to Info on an
// unrecognized string.
func New(dest, level string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	var out io.Writer = os.Stdout
	if dest != "" && dest != "stdout" {
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		out = f
	}
	logger.SetOutput(out)
	return logger, nil
}

// Component returns a sub-logger tagged with a "component" field, the
// unit every package call site logs through.
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithField("component", name)
}
