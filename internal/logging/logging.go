// Package logging builds the hclog loggers used across hlsaudio.
package logging

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls log level, format and the optional rotating log file.
type Config struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ParseLevel maps a level name to an hclog level. An empty name is info.
func ParseLevel(name string) (hclog.Level, error) {
	if strings.TrimSpace(name) == "" {
		return hclog.Info, nil
	}
	level := hclog.LevelFromString(name)
	if level == hclog.NoLevel {
		return hclog.NoLevel, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New creates the root logger. Output goes to the rotating file when
// cfg.File is set, otherwise to fallback (normally stderr, since stdout may
// carry audio). The returned Closer releases the log file.
func New(name string, cfg Config, fallback io.Writer) (hclog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = fallback
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out = rotating
		closer = rotating
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      level,
		Output:     out,
		JSONFormat: cfg.JSON,
	})
	return logger, closer, nil
}

// Discard returns a logger that drops everything.
func Discard() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Level:  hclog.Off,
		Output: io.Discard,
	})
}

// Std adapts logger for APIs that take a *log.Logger, such as http.Server.ErrorLog.
func Std(logger hclog.Logger) *log.Logger {
	return logger.StandardLogger(&hclog.StandardLoggerOptions{
		InferLevels: true,
	})
}
