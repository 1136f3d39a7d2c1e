// Package logger constructs the process-wide structured logger.
package logger

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// New creates a new logger with the given format and level.
func New(format, level string) (logrus.FieldLogger, error) {
	log := logrus.StandardLogger()

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	default:
		return nil, fmt.Errorf("invalid log format: %q", format)
	}

	l, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(l)

	return log, nil
}
