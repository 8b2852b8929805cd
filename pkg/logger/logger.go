package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields is a shorthand for structured log fields.
type Fields = logrus.Fields

// Config controls the process-wide logger.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or text
	OutputFile string // optional; empty logs to stdout only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var (
	mu     sync.RWMutex
	global = newLogger(Config{Level: "info", Format: "text"}, os.Stdout)
)

// Init replaces the global logger. It is safe to call more than once.
func Init(cfg Config) error {
	var out io.Writer = os.Stdout
	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    orDefault(cfg.MaxSizeMB, 50),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 14),
			Compress:   cfg.Compress,
		})
	}

	l := newLogger(cfg, out)
	mu.Lock()
	global = l
	mu.Unlock()
	return nil
}

func newLogger(cfg Config, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		l.SetReportCaller(true)
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
			},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	}
	return l
}

// L returns the global logger.
func L() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// WithComponent returns an entry tagged with the component name.
func WithComponent(component string) *logrus.Entry {
	return L().WithField("component", component)
}

// SetOutput redirects the global logger, mainly for tests.
func SetOutput(w io.Writer) {
	L().SetOutput(w)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
