// Package observability contains logging setup for the sockframe binary.
package observability

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/andrei-cloud/sockframe/internal/config"
)

// SetupLogger builds a zerolog.Logger from c and installs it as the global
// logger. The returned close function releases any log files.
func SetupLogger(app string, c config.LogConfig) (zerolog.Logger, func() error, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	outputs := c.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	var (
		writers []io.Writer
		closers []io.Closer
	)
	for _, out := range outputs {
		switch strings.ToLower(out) {
		case "stdout":
			writers = append(writers, format(os.Stdout, c.Format, false))
		case "stderr":
			writers = append(writers, format(os.Stderr, c.Format, false))
		default:
			w, closer, err := openFile(out, c)
			if err != nil {
				for _, cl := range closers {
					_ = cl.Close()
				}
				return zerolog.Nop(), nil, err
			}
			writers = append(writers, format(w, c.Format, true))
			closers = append(closers, closer)
		}
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Str("app", app).Logger()
	log.Logger = logger

	closeFn := func() error {
		var errs []error
		for _, cl := range closers {
			errs = append(errs, cl.Close())
		}
		return errors.Join(errs...)
	}

	return logger, closeFn, nil
}

func format(w io.Writer, f string, file bool) io.Writer {
	if strings.ToLower(f) == "json" {
		return w
	}
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    file,
	}
}

// openFile opens path for appending, through lumberjack when rotation is on.
func openFile(path string, c config.LogConfig) (io.Writer, io.Closer, error) {
	if c.Rotation.Enable {
		name := path
		if strings.TrimSpace(c.Rotation.Filename) != "" {
			name = c.Rotation.Filename
		}
		lj := &lumberjack.Logger{
			Filename:   name,
			MaxSize:    max(c.Rotation.MaxSizeMB, 1),
			MaxBackups: c.Rotation.MaxBackups,
			MaxAge:     c.Rotation.MaxAgeDays,
			Compress:   c.Rotation.Compress,
		}
		return lj, lj, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}
