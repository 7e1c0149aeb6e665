// Package logging configures logrus from a config.LogConfig.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/opd-ai/reflector/config"
)

// Setup configures the standard logrus logger. The returned closer releases
// any log files and should be closed on exit.
func Setup(c config.LogConfig) (io.Closer, error) {
	return Configure(logrus.StandardLogger(), c)
}

// Configure applies c to logger.
func Configure(logger *logrus.Logger, c config.LogConfig) (io.Closer, error) {
	level, err := logrus.ParseLevel(strings.TrimSpace(c.Level))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var formatter logrus.Formatter
	switch strings.ToLower(c.Format) {
	case "json":
		formatter = &logrus.JSONFormatter{}
	case "", "text":
		formatter = &logrus.TextFormatter{FullTimestamp: true}
	default:
		return nil, fmt.Errorf("log format %q", c.Format)
	}

	outputs := c.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	var (
		writers []io.Writer
		closers multiCloser
	)
	for _, out := range outputs {
		switch strings.ToLower(out) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			w, err := openFile(out, c.Rotation)
			if err != nil {
				_ = closers.Close()
				return nil, err
			}
			writers = append(writers, w)
			closers = append(closers, w)
		}
	}

	logger.SetLevel(level)
	logger.SetFormatter(formatter)
	if len(writers) == 1 {
		logger.SetOutput(writers[0])
	} else {
		logger.SetOutput(io.MultiWriter(writers...))
	}
	return closers, nil
}

// openFile returns a rotating writer when rotation is enabled, else an append-only file.
func openFile(path string, r config.RotationConfig) (io.WriteCloser, error) {
	if r.Enable {
		if strings.TrimSpace(r.Filename) != "" {
			path = r.Filename
		}
		return &lumberjack.Logger{
			Filename:   path,
			MaxSize:    max(r.MaxSizeMB, 1),
			MaxBackups: max(r.MaxBackups, 1),
			MaxAge:     max(r.MaxAgeDays, 1),
			Compress:   r.Compress,
		}, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("log file: %w", err)
	}
	return f, nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
