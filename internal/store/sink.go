// Package store persists ranked order book records.
//
// Sinks are written from a single Dispatcher worker so the order book path
// never waits on a database, broker or disk. A failed write is logged and the
// record is dropped; nothing is retried or buffered for replay.
package store

import (
	"context"
	"errors"

	"bookrecorder/internal/types"
)

var (
	// ErrQueueClosed is returned by Enqueue once the dispatcher is closing
	ErrQueueClosed = errors.New("persistence queue closed")
	// ErrQueueFull is returned by Enqueue when the worker is behind; the record is dropped
	ErrQueueFull = errors.New("persistence queue full")
	// ErrUnknownDriver is returned for SQL drivers without a dialect
	ErrUnknownDriver = errors.New("unknown sql driver")
)

// Sink durably records ranked snapshots
type Sink interface {
	// Name identifies the sink in logs and metrics
	Name() string
	// Persist writes one record
	Persist(ctx context.Context, record types.Record) error
	// Close releases the sink's resources
	Close() error
}
