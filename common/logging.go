package common

import (
	log "github.com/sirupsen/logrus"
)

// SetupLogging configures the process-wide logrus logger from config.
func SetupLogging(cfg *Config) {
	lvl, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	if cfg.Log.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
