package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bookrecorder/internal/config"

	"github.com/rs/zerolog"
)

func TestNewLoggerWritesFile(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "debug"
	cfg.Logging.File = filepath.Join(t.TempDir(), "logs", "recorder.log")

	logger, closer, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.Info().Str("symbol", "BTCUSDT").Msg("hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	b, err := os.ReadFile(cfg.Logging.File)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), `"symbol":"BTCUSDT"`) || !strings.Contains(string(b), "hello") {
		t.Errorf("unexpected log contents: %s", b)
	}
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Errorf("expected debug level, got %s", zerolog.GlobalLevel())
	}
}

func TestNewLoggerBadLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "loud"

	if _, _, err := NewLogger(cfg); err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("expected fallback to info, got %s", zerolog.GlobalLevel())
	}
}
