package main

import (
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	envLogLevel  = "LOG_LEVEL"
	envLogFormat = "LOG_FORMAT"
)

// setupLogger настраивает формат и уровень логирования. Некорректный уровень
// заменяется на info.
func setupLogger(lookup envLookup) {
	format, _ := lookup(envLogFormat)
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level := log.InfoLevel
	if raw, ok := lookup(envLogLevel); ok {
		if parsed, err := log.ParseLevel(strings.TrimSpace(raw)); err == nil {
			level = parsed
		}
	}
	log.SetLevel(level)
}
