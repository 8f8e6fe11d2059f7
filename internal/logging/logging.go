// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Setup applies the level and picks the formatter for the environment:
// JSON in production, text everywhere else.
func Setup(logger *logrus.Logger, level, environment string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(parsed)

	if environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
