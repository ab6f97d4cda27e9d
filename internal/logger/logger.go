package logger

import (
	"io"
	"os"
	"path/filepath"

	"people-counter-go/config"

	log "github.com/sirupsen/logrus"
)

// Init configures the global logrus logger. The returned closer releases the
// log file, if one was opened, and is never nil.
func Init(cfg config.LogConfig) (io.Closer, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.Warnf("Invalid log level '%s', defaulting to 'info': %v", cfg.Level, err)
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	// stdout is always kept for container logs
	writers := []io.Writer{os.Stdout}
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		logDir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(logDir, 0750); err != nil {
			log.Errorf("Failed to create log directory '%s': %v", logDir, err)
		} else if file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660); err != nil {
			log.Errorf("Failed to open log file '%s': %v", cfg.File, err)
		} else {
			writers = append(writers, file)
			closer = file
			log.Infof("Logging additionally to file: %s", cfg.File)
		}
	}

	log.SetOutput(io.MultiWriter(writers...))
	log.WithField("level", level.String()).Info("Logger initialized")
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
