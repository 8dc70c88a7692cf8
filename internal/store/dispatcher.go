package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"bookrecorder/internal/metrics"
	"bookrecorder/internal/types"

	"github.com/rs/zerolog"
)

const (
	defaultQueueSize    = 64
	defaultWriteTimeout = 5 * time.Second

	queueLabel = "queue"
)

// DispatcherConfig configures a Dispatcher
type DispatcherConfig struct {
	QueueSize    int
	WriteTimeout time.Duration
}

// Dispatcher fans records out to its sinks from one background worker
type Dispatcher struct {
	sinks   []Sink
	queue   chan types.Record
	stop    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
	timeout time.Duration
	logger  zerolog.Logger
}

// NewDispatcher creates a dispatcher and starts its worker
func NewDispatcher(sinks []Sink, cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	d := &Dispatcher{
		sinks:   sinks,
		queue:   make(chan types.Record, size),
		stop:    make(chan struct{}),
		timeout: timeout,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Enqueue hands record to the worker without waiting. When the queue is full
// the record is dropped, counted under the "queue" sink label and ErrQueueFull
// is returned.
func (d *Dispatcher) Enqueue(ctx context.Context, record types.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-d.stop:
		return ErrQueueClosed
	default:
	}

	select {
	case d.queue <- record:
		metrics.QueueDepth.Set(float64(len(d.queue)))
		return nil
	default:
		metrics.PersistFailures.WithLabelValues(queueLabel).Inc()
		d.logger.Warn().
			Time("ts", record.Timestamp).
			Int("queued", len(d.queue)).
			Msg("persistence queue full, record dropped")
		return ErrQueueFull
	}
}

// Close stops accepting records, writes what is already queued and closes every sink
func (d *Dispatcher) Close() error {
	d.stopped.Do(func() { close(d.stop) })
	d.wg.Wait()

	var errs []error
	for _, sink := range d.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case record := <-d.queue:
			d.persist(record)
		case <-d.stop:
			for {
				select {
				case record := <-d.queue:
					d.persist(record)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) persist(record types.Record) {
	metrics.QueueDepth.Set(float64(len(d.queue)))
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		start := time.Now()
		err := sink.Persist(ctx, record)
		cancel()
		metrics.PersistLatencyMs.WithLabelValues(sink.Name()).Observe(float64(time.Since(start).Milliseconds()))

		if err != nil {
			metrics.PersistFailures.WithLabelValues(sink.Name()).Inc()
			d.logger.Error().Err(err).
				Str("sink", sink.Name()).
				Time("ts", record.Timestamp).
				Msg("persist failed, record dropped")
			continue
		}
		metrics.PersistedTotal.WithLabelValues(sink.Name()).Inc()
		d.logger.Debug().
			Str("sink", sink.Name()).
			Int("rows", len(record.Bids)+len(record.Asks)).
			Time("ts", record.Timestamp).
			Str("spread", record.Spread().String()).
			Msg("record persisted")
	}
}
