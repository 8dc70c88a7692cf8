package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"bookrecorder/internal/config"

	"github.com/rs/zerolog"
)

type Logger = zerolog.Logger

// NewLogger builds the process logger. When logging.file is set the output is
// written to the file as well as stderr; the returned closer releases it.
func NewLogger(cfg config.Config) (Logger, io.Closer, error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	var console io.Writer = os.Stderr
	if cfg.Logging.Pretty {
		console = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	out := console
	var closer io.Closer = nopCloser{}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(console, f)
		closer = f
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || cfg.Logging.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	return zerolog.New(out).With().Timestamp().Logger(), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
