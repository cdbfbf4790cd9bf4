// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Setup configures the standard logger with the given verbosity level
// and output format. The text format is meant for terminals, the json
// format for log aggregation.
func Setup(level, format string) error {
	formatter, err := formatterFor(format)
	if err != nil {
		return err
	}
	log.SetFormatter(formatter)

	parsed, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("parse log level: %s", err)
	}
	log.SetLevel(parsed)

	return nil
}

func formatterFor(format string) (log.Formatter, error) {
	switch format {
	case FormatJSON:
		return &log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		}, nil
	case FormatText:
		return &log.TextFormatter{
			FullTimestamp: true,
		}, nil
	}
	return nil, fmt.Errorf("log format %q is not supported; use %q or %q", format, FormatText, FormatJSON)
}
