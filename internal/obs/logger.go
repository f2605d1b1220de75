package obs

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig configures the process logger
type LogConfig struct {
	// Level is a logrus level name. Empty means info.
	Level string `yaml:"level" json:"level"`
	// Format is "text" or "json". Empty means text.
	Format string `yaml:"format" json:"format"`
	// File, when set, sends output to a rotating log file instead of stderr
	File     string          `yaml:"file" json:"file"`
	Rotation *RotationConfig `yaml:"rotation,omitempty" json:"rotation,omitempty"`
}

// RotationConfig holds configuration for log rotation
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size" json:"max_size"`       // megabytes
	MaxBackups int  `yaml:"max_backups" json:"max_backups"` // old files kept
	MaxAge     int  `yaml:"max_age" json:"max_age"`         // days
	Compress   bool `yaml:"compress" json:"compress"`
}

// DefaultRotationConfig returns default log rotation settings
func DefaultRotationConfig() *RotationConfig {
	return &RotationConfig{
		MaxSize:    10,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
	}
}

// Setup applies cfg to logger. The returned closer releases the log file and
// is a no-op when logging to stderr.
func Setup(logger *logrus.Logger, cfg LogConfig) (io.Closer, error) {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("log format %q: want text or json", cfg.Format)
	}

	if cfg.File == "" {
		logger.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}

	rot := cfg.Rotation
	if rot == nil {
		rot = DefaultRotationConfig()
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    rot.MaxSize,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAge,
		Compress:   rot.Compress,
	}
	logger.SetOutput(file)
	return file, nil
}

// Discard returns a logger that drops everything
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
