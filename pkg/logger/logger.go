// Package logger wraps logrus with the defaults used across the prize pool services.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a logrus logger tagged with the component that owns it.
type Logger struct {
	*logrus.Logger
	component string
}

// Config controls logger construction.
type Config struct {
	Component string
	Level     string // debug, info, warn, error
	Format    string // text or json
	Output    io.Writer
}

// New constructs a logger from cfg. Unknown levels fall back to info.
func New(cfg Config) *Logger {
	base := logrus.New()
	if cfg.Output != nil {
		base.SetOutput(cfg.Output)
	} else {
		base.SetOutput(os.Stderr)
	}

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	l := &Logger{Logger: base, component: cfg.Component}
	if cfg.Component != "" {
		base.AddHook(componentHook{component: cfg.Component})
	}
	return l
}

// NewDefault returns an info-level text logger for the named component.
func NewDefault(component string) *Logger {
	return New(Config{Component: component})
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return New(Config{Output: io.Discard, Level: "panic"})
}

// Component returns the component name the logger was created for.
func (l *Logger) Component() string {
	return l.component
}

// Named derives a logger sharing output, level and formatter under another component name.
func (l *Logger) Named(component string) *Logger {
	base := logrus.New()
	base.SetOutput(l.Out)
	base.SetLevel(l.GetLevel())
	base.SetFormatter(l.Formatter)
	base.AddHook(componentHook{component: component})
	return &Logger{Logger: base, component: component}
}

type componentHook struct {
	component string
}

func (h componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h componentHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["component"]; !ok {
		entry.Data["component"] = h.component
	}
	return nil
}
