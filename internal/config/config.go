package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"bookrecorder/internal/exchange"
	"bookrecorder/internal/factory"
	"bookrecorder/internal/types"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Sink kinds accepted in sink.kinds
const (
	SinkSQL    = "sql"
	SinkPebble = "pebble"
	SinkKafka  = "kafka"
)

// Config holds all application configuration
type Config struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	Book     BookConfig     `yaml:"book"`
	Sink     SinkConfig     `yaml:"sink"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ExchangeConfig selects the venue and symbol to record
type ExchangeConfig struct {
	Name                    string `yaml:"name"`
	Symbol                  string `yaml:"symbol"`
	RESTURL                 string `yaml:"rest_url"`
	WSURL                   string `yaml:"ws_url"`
	SnapshotLimit           int    `yaml:"snapshot_limit"`
	HandshakeTimeoutSeconds int    `yaml:"handshake_timeout_seconds"`
}

// BookConfig controls ranking depth and emission
type BookConfig struct {
	Depth          int    `yaml:"depth"`
	Volume         string `yaml:"volume"`
	EmitIntervalMs int    `yaml:"emit_interval_ms"`
	Timezone       string `yaml:"timezone"`
	Platform       string `yaml:"platform"`
}

// SinkConfig lists the persistence targets
type SinkConfig struct {
	Kinds               []string `yaml:"kinds"`
	QueueSize           int      `yaml:"queue_size"`
	WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
	SQL                 struct {
		Driver      string `yaml:"driver"`
		DSN         string `yaml:"dsn"`
		Table       string `yaml:"table"`
		CreateTable bool   `yaml:"create_table"`
	} `yaml:"sql"`
	Pebble struct {
		Path string `yaml:"path"`
	} `yaml:"pebble"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
}

// ServerConfig configures the status server
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig configures the zerolog logger
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
	File   string `yaml:"file"`
}

// Default returns the configuration for BTCUSDT on Binance, top 10 levels, written to
// a local ClickHouse
func Default() Config {
	var c Config
	c.Exchange.Name = string(exchange.Binance)
	c.Exchange.Symbol = "BTCUSDT"
	c.Exchange.SnapshotLimit = 1000
	c.Exchange.HandshakeTimeoutSeconds = 10
	c.Book.Depth = 10
	c.Book.Volume = string(types.VolumeBase)
	c.Book.EmitIntervalMs = 1000
	c.Book.Timezone = "Europe/London"
	c.Book.Platform = "Binance"
	c.Sink.Kinds = []string{SinkSQL}
	c.Sink.QueueSize = 64
	c.Sink.WriteTimeoutSeconds = 5
	c.Sink.SQL.Driver = "clickhouse"
	c.Sink.SQL.DSN = "clickhouse://localhost:9000/default"
	c.Sink.SQL.Table = "orderbook"
	c.Sink.SQL.CreateTable = true
	c.Sink.Pebble.Path = "data/orderbook"
	c.Sink.Kafka.Topic = "orderbook"
	c.Server.Enabled = true
	c.Server.Addr = ":8086"
	c.Logging.Level = "info"
	return c
}

// Load builds the configuration from defaults, an optional yaml file, a .env file
// and BOOKRECORDER_* environment variables, in that order. path overrides
// BOOKRECORDER_CONFIG when set.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	c := Default()
	if path == "" {
		path = os.Getenv("BOOKRECORDER_CONFIG")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"BOOKRECORDER_EXCHANGE":    &c.Exchange.Name,
		"BOOKRECORDER_SYMBOL":      &c.Exchange.Symbol,
		"BOOKRECORDER_REST_URL":    &c.Exchange.RESTURL,
		"BOOKRECORDER_WS_URL":      &c.Exchange.WSURL,
		"BOOKRECORDER_VOLUME":      &c.Book.Volume,
		"BOOKRECORDER_TIMEZONE":    &c.Book.Timezone,
		"BOOKRECORDER_PLATFORM":    &c.Book.Platform,
		"BOOKRECORDER_SQL_DRIVER":  &c.Sink.SQL.Driver,
		"BOOKRECORDER_SQL_DSN":     &c.Sink.SQL.DSN,
		"BOOKRECORDER_SQL_TABLE":   &c.Sink.SQL.Table,
		"BOOKRECORDER_PEBBLE_PATH": &c.Sink.Pebble.Path,
		"BOOKRECORDER_KAFKA_TOPIC": &c.Sink.Kafka.Topic,
		"BOOKRECORDER_HTTP_ADDR":   &c.Server.Addr,
		"BOOKRECORDER_LOG_LEVEL":   &c.Logging.Level,
		"BOOKRECORDER_LOG_FILE":    &c.Logging.File,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"BOOKRECORDER_DEPTH":            &c.Book.Depth,
		"BOOKRECORDER_EMIT_INTERVAL_MS": &c.Book.EmitIntervalMs,
		"BOOKRECORDER_SNAPSHOT_LIMIT":   &c.Exchange.SnapshotLimit,
		"BOOKRECORDER_QUEUE_SIZE":       &c.Sink.QueueSize,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("BOOKRECORDER_SINKS"); v != "" {
		c.Sink.Kinds = splitCSV(v)
	}
	if v := os.Getenv("BOOKRECORDER_KAFKA_BROKERS"); v != "" {
		c.Sink.Kafka.Brokers = splitCSV(v)
	}
	if v := os.Getenv("BOOKRECORDER_SERVER_ENABLED"); v != "" {
		c.Server.Enabled = v == "1" || v == "true"
	}
	if v := os.Getenv("BOOKRECORDER_LOG_PRETTY"); v == "1" || v == "true" {
		c.Logging.Pretty = true
	}
	return nil
}

// Validate reports the first setting that cannot be used
func (c Config) Validate() error {
	if !factory.ValidateExchangeName(c.Exchange.Name) {
		return fmt.Errorf("unknown exchange %q, supported: %v", c.Exchange.Name, factory.GetSupportedExchanges())
	}
	if strings.TrimSpace(c.Exchange.Symbol) == "" {
		return errors.New("exchange.symbol is required")
	}
	if c.Book.Depth < 1 {
		return fmt.Errorf("book.depth must be at least 1, got %d", c.Book.Depth)
	}
	if _, err := types.ParseVolumeConvention(c.Book.Volume); err != nil {
		return err
	}
	if c.Book.EmitIntervalMs <= 0 {
		return fmt.Errorf("book.emit_interval_ms must be positive, got %d", c.Book.EmitIntervalMs)
	}
	if _, err := time.LoadLocation(c.Book.Timezone); err != nil {
		return fmt.Errorf("book.timezone: %w", err)
	}
	for _, kind := range c.Sink.Kinds {
		switch kind {
		case SinkSQL:
			if c.Sink.SQL.Driver == "" || c.Sink.SQL.DSN == "" {
				return errors.New("sink.sql needs driver and dsn")
			}
		case SinkPebble:
			if c.Sink.Pebble.Path == "" {
				return errors.New("sink.pebble.path is required")
			}
		case SinkKafka:
			if len(c.Sink.Kafka.Brokers) == 0 || c.Sink.Kafka.Topic == "" {
				return errors.New("sink.kafka needs brokers and topic")
			}
		default:
			return fmt.Errorf("unknown sink kind %q", kind)
		}
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return errors.New("server.addr is required when the server is enabled")
	}
	return nil
}

// EmitInterval returns book.emit_interval_ms as a duration
func (c Config) EmitInterval() time.Duration {
	return time.Duration(c.Book.EmitIntervalMs) * time.Millisecond
}

// WriteTimeout returns sink.write_timeout_seconds as a duration
func (c Config) WriteTimeout() time.Duration {
	return time.Duration(c.Sink.WriteTimeoutSeconds) * time.Second
}

// HandshakeTimeout returns exchange.handshake_timeout_seconds as a duration
func (c Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Exchange.HandshakeTimeoutSeconds) * time.Second
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
