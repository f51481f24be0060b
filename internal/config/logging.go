package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

// InitLogs builds the process logger from the log configuration.
func InitLogs(cfg LogConfig, service string) *logrus.Entry {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if cfg.LogFormat == LogFormatJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	logger := log.WithField("service", service)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Errorf("invalid log level %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return logger
}
