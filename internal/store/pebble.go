package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"bookrecorder/internal/types"

	"github.com/cockroachdb/pebble"
	"github.com/shopspring/decimal"
	"github.com/sugawarayuuta/sonnet"
)

// PebbleSink keeps records in a local LSM store under time-ordered keys:
//
//	ts (unix ms, big endian uint64) | platform | 0x00 | level (uint16) | side
type PebbleSink struct {
	db *pebble.DB
}

type pebbleValue struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Volume string `json:"volume"`
}

// StoredRow is one row read back from a PebbleSink
type StoredRow struct {
	Timestamp time.Time
	Platform  string
	Symbol    string
	Row       types.Row
}

// NewPebbleSink opens (or creates) the store at dir
func NewPebbleSink(dir string) (*PebbleSink, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}
	return &PebbleSink{db: db}, nil
}

// Name implements Sink
func (s *PebbleSink) Name() string {
	return "pebble"
}

// Persist writes every row of record in one synced batch
func (s *PebbleSink) Persist(ctx context.Context, record types.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, row := range record.Rows() {
		value, err := sonnet.Marshal(pebbleValue{
			Symbol: record.Symbol,
			Price:  row.Price.String(),
			Volume: row.Volume.String(),
		})
		if err != nil {
			return fmt.Errorf("encode %s level %d: %w", row.Side, row.Level, err)
		}
		if err := batch.Set(rowKey(record.Timestamp, record.Platform, row), value, nil); err != nil {
			return fmt.Errorf("stage %s level %d: %w", row.Side, row.Level, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Scan returns rows with timestamps in [from, to) in key order
func (s *PebbleSink) Scan(from, to time.Time) ([]StoredRow, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: tsPrefix(from),
		UpperBound: tsPrefix(to),
	})
	if err != nil {
		return nil, fmt.Errorf("new iterator: %w", err)
	}
	defer iter.Close()

	var rows []StoredRow
	for iter.First(); iter.Valid(); iter.Next() {
		stored, err := decodeRow(iter.Key(), iter.Value())
		if err != nil {
			return nil, err
		}
		rows = append(rows, stored)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return rows, nil
}

// Close flushes and closes the store
func (s *PebbleSink) Close() error {
	return s.db.Close()
}

func tsPrefix(ts time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(ts.UnixMilli()))
	return buf
}

func rowKey(ts time.Time, platform string, row types.Row) []byte {
	key := make([]byte, 0, 8+len(platform)+4)
	key = append(key, tsPrefix(ts)...)
	key = append(key, platform...)
	key = append(key, 0)
	key = binary.BigEndian.AppendUint16(key, uint16(row.Level))
	if row.Side == types.Bid {
		key = append(key, 'B')
	} else {
		key = append(key, 'A')
	}
	return key
}

func decodeRow(key, value []byte) (StoredRow, error) {
	if len(key) < 8+1+2+1 {
		return StoredRow{}, fmt.Errorf("short key %x", key)
	}
	ts := time.UnixMilli(int64(binary.BigEndian.Uint64(key[:8])))
	rest := key[8:]
	sep := bytes.IndexByte(rest, 0)
	if sep < 0 || len(rest) != sep+4 {
		return StoredRow{}, fmt.Errorf("malformed key %x", key)
	}
	platform := string(rest[:sep])
	level := int(binary.BigEndian.Uint16(rest[sep+1 : sep+3]))
	side := types.Ask
	if rest[sep+3] == 'B' {
		side = types.Bid
	}

	var v pebbleValue
	if err := sonnet.Unmarshal(value, &v); err != nil {
		return StoredRow{}, fmt.Errorf("decode value for key %x: %w", key, err)
	}
	price, err := decimal.NewFromString(v.Price)
	if err != nil {
		return StoredRow{}, fmt.Errorf("decode price for key %x: %w", key, err)
	}
	volume, err := decimal.NewFromString(v.Volume)
	if err != nil {
		return StoredRow{}, fmt.Errorf("decode volume for key %x: %w", key, err)
	}
	return StoredRow{
		Timestamp: ts,
		Platform:  platform,
		Symbol:    v.Symbol,
		Row:       types.Row{Level: level, Side: side, Price: price, Volume: volume},
	}, nil
}
