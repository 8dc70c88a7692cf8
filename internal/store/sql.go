package store

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"bookrecorder/internal/types"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// SQLConfig configures a SQLSink
type SQLConfig struct {
	Driver      string
	DSN         string
	Table       string
	CreateTable bool
	// Timezone is used in the ClickHouse column type
	Timezone string
}

// dialect holds what differs between the supported drivers
type dialect struct {
	createTable func(table, timezone string) string
	level       func(int) any
	number      func(decimal.Decimal) any
}

var dialects = map[string]dialect{
	"clickhouse": {
		createTable: func(table, timezone string) string {
			return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	timestamp DateTime64(3, '%s'),
	platform String CODEC(ZSTD(1)),
	order_level Float64 CODEC(ZSTD(1)),
	order_type String CODEC(ZSTD(1)),
	price Float64 CODEC(ZSTD(1)),
	volume Float64 CODEC(ZSTD(1))
) ENGINE = MergeTree() ORDER BY timestamp`, table, timezone)
		},
		level:  func(l int) any { return float64(l) },
		number: func(v decimal.Decimal) any { return v.InexactFloat64() },
	},
	"postgres": {
		createTable: func(table, _ string) string {
			return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	timestamp TIMESTAMPTZ(3) NOT NULL,
	platform TEXT NOT NULL,
	order_level SMALLINT NOT NULL,
	order_type TEXT NOT NULL,
	price NUMERIC NOT NULL,
	volume NUMERIC NOT NULL
)`, table)
		},
		level:  func(l int) any { return l },
		number: func(v decimal.Decimal) any { return v },
	},
	"sqlite3": {
		createTable: func(table, _ string) string {
			return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	timestamp DATETIME NOT NULL,
	platform TEXT NOT NULL,
	order_level INTEGER NOT NULL,
	order_type TEXT NOT NULL,
	price TEXT NOT NULL,
	volume TEXT NOT NULL
)`, table)
		},
		level:  func(l int) any { return l },
		number: func(v decimal.Decimal) any { return v },
	},
}

// SQLSink writes one row per ranked level into a time-ordered table
type SQLSink struct {
	db      *sqlx.DB
	dialect dialect
	insert  string
	table   string
}

// NewSQLSink connects to the database and optionally creates the table
func NewSQLSink(ctx context.Context, cfg SQLConfig) (*SQLSink, error) {
	if _, ok := dialects[cfg.Driver]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Driver)
	}
	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}
	sink, err := OpenSQLSink(ctx, db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

// OpenSQLSink wraps an existing connection
func OpenSQLSink(ctx context.Context, db *sqlx.DB, cfg SQLConfig) (*SQLSink, error) {
	d, ok := dialects[db.DriverName()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, db.DriverName())
	}
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	if cfg.CreateTable {
		timezone := cfg.Timezone
		if timezone == "" {
			timezone = "UTC"
		}
		if _, err := db.ExecContext(ctx, d.createTable(cfg.Table, timezone)); err != nil {
			return nil, fmt.Errorf("create table %s: %w", cfg.Table, err)
		}
	}
	insert := db.Rebind(fmt.Sprintf(
		`INSERT INTO %s (timestamp, platform, order_level, order_type, price, volume) VALUES (?, ?, ?, ?, ?, ?)`,
		cfg.Table))
	return &SQLSink{db: db, dialect: d, insert: insert, table: cfg.Table}, nil
}

// Name implements Sink
func (s *SQLSink) Name() string {
	return "sql:" + s.db.DriverName()
}

// Persist writes bids then asks of record in one transaction
func (s *SQLSink) Persist(ctx context.Context, record types.Record) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, s.insert)
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", s.table, err)
	}
	defer stmt.Close()

	ts := record.Timestamp.Truncate(time.Millisecond)
	for _, row := range record.Rows() {
		_, err := stmt.ExecContext(ctx,
			ts,
			record.Platform,
			s.dialect.level(row.Level),
			string(row.Side),
			s.dialect.number(row.Price),
			s.dialect.number(row.Volume),
		)
		if err != nil {
			return fmt.Errorf("insert %s level %d: %w", row.Side, row.Level, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the database handle
func (s *SQLSink) Close() error {
	return s.db.Close()
}
