package logging

import (
	log "github.com/sirupsen/logrus"
)

// Setup configures the global logrus logger from config values.
func Setup(level, format string) {
	parsed, errParse := log.ParseLevel(level)
	if errParse != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)

	if format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
