package core

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds a logrus logger writing to w at the level named by
// ODMCORE_LOG_LEVEL (default info). An unparsable level is reported as an
// error alongside a logger left at the default.
func NewLogger(w io.Writer) (*logrus.Logger, error) {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	raw := os.Getenv(EnvLogLevel)
	if raw == "" {
		return l, nil
	}
	level, err := logrus.ParseLevel(raw)
	if err != nil {
		return l, err
	}
	l.SetLevel(level)
	return l, nil
}
