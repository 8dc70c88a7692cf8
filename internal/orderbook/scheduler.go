package orderbook

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"bookrecorder/internal/aggregation"
	"bookrecorder/internal/exchange"
	"bookrecorder/internal/metrics"
	"bookrecorder/internal/types"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultInterval is the minimum spacing between two emission attempts
const DefaultInterval = time.Second

// ErrStreamClosed is returned by Run when the update channel is closed
var ErrStreamClosed = errors.New("update stream closed")

// Emitter accepts records for asynchronous persistence
type Emitter interface {
	Enqueue(ctx context.Context, record types.Record) error
}

// SchedulerConfig configures a Scheduler
type SchedulerConfig struct {
	Depth      int
	Interval   time.Duration
	Aggregator *aggregation.Aggregator
	Clock      Clock
	Logger     zerolog.Logger
}

// Scheduler applies depth updates to the replica and coalesces them into at
// most one emission attempt per interval.
//
// It is Idle while no timer is armed and Pending while one is. The first
// update seen while Idle arms the timer and fixes the timestamp of the
// eventual record; later updates only mutate the replica. When the timer
// fires the replica is ranked as it stands at that moment.
type Scheduler struct {
	reconciler *Reconciler
	gate       *ChangeGate
	emitter    Emitter
	aggregator *aggregation.Aggregator
	clock      Clock
	depth      int
	interval   time.Duration
	logger     zerolog.Logger

	timer   <-chan time.Time // nil while Idle
	armedAt time.Time

	updatesApplied atomic.Int64
	emissions      atomic.Int64
	suppressed     atomic.Int64
	bidLevels      atomic.Int64
	askLevels      atomic.Int64
	lastUpdateMs   atomic.Int64
	lastEmitMs     atomic.Int64
	pending        atomic.Bool
	topBid         atomic.Pointer[decimal.Decimal]
	topAsk         atomic.Pointer[decimal.Decimal]
}

// NewScheduler creates a Scheduler in the Idle state
func NewScheduler(reconciler *Reconciler, gate *ChangeGate, emitter Emitter, cfg SchedulerConfig) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = WallClock()
	}
	agg := cfg.Aggregator
	if agg == nil {
		agg = aggregation.New(aggregation.Options{})
	}
	s := &Scheduler{
		reconciler: reconciler,
		gate:       gate,
		emitter:    emitter,
		aggregator: agg,
		clock:      clock,
		depth:      cfg.Depth,
		interval:   interval,
		logger:     cfg.Logger.With().Str("component", "scheduler").Logger(),
	}
	s.refreshLevels()
	return s
}

// Seed replaces the replica with snapshot. It must complete before Run starts.
func (s *Scheduler) Seed(snapshot *exchange.Snapshot) error {
	if err := s.reconciler.Seed(snapshot); err != nil {
		return err
	}
	metrics.SnapshotLevels.WithLabelValues(string(types.Bid)).Set(float64(len(snapshot.Bids)))
	metrics.SnapshotLevels.WithLabelValues(string(types.Ask)).Set(float64(len(snapshot.Asks)))
	s.refreshLevels()
	return nil
}

// Pending reports whether an emission timer is armed
func (s *Scheduler) Pending() bool {
	return s.timer != nil
}

// HandleUpdate applies update to the replica and arms the emission timer when Idle
func (s *Scheduler) HandleUpdate(update *exchange.DepthUpdate) error {
	if err := s.reconciler.Apply(update); err != nil {
		metrics.MalformedUpdates.Inc()
		return err
	}

	s.updatesApplied.Add(1)
	metrics.UpdatesApplied.Inc()
	s.refreshLevels()

	at := update.ReceivedAt
	if at.IsZero() {
		at = s.clock.Now()
	}
	s.lastUpdateMs.Store(at.UnixMilli())

	if s.timer == nil {
		s.timer = s.clock.After(s.interval)
		s.armedAt = at
		s.pending.Store(true)
	}
	return nil
}

// Fire returns the scheduler to Idle, ranks the replica and enqueues a record
// when the top of book moved since the last emission. It reports whether a
// record was enqueued.
func (s *Scheduler) Fire(ctx context.Context) (bool, error) {
	s.timer = nil
	s.pending.Store(false)

	bids, asks := s.reconciler.Book().Ranked(s.depth)
	candidate := types.RankedSnapshot{
		Timestamp: s.armedAt,
		Bids:      bids,
		Asks:      asks,
	}
	if !s.gate.Check(candidate) {
		s.suppressed.Add(1)
		metrics.Suppressed.Inc()
		return false, nil
	}

	record := s.aggregator.Record(candidate)
	if err := s.emitter.Enqueue(ctx, record); err != nil {
		return false, fmt.Errorf("enqueue record: %w", err)
	}
	s.emissions.Add(1)
	s.lastEmitMs.Store(record.Timestamp.UnixMilli())
	metrics.Emissions.Inc()

	s.logger.Debug().
		Time("ts", record.Timestamp).
		Str("top_bid", record.Bids[0].Price.String()).
		Str("top_ask", record.Asks[0].Price.String()).
		Str("spread", record.Spread().String()).
		Msg("emitting ranked levels")
	return true, nil
}

// Run processes updates and timer firings serially until ctx is done, the
// stream closes or an update fails to apply
func (s *Scheduler) Run(ctx context.Context, updates <-chan *exchange.DepthUpdate) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return ErrStreamClosed
			}
			if err := s.HandleUpdate(update); err != nil {
				return err
			}
		case <-s.timer:
			if _, err := s.Fire(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Error().Err(err).Msg("emission dropped")
			}
		}
	}
}

// Stats returns a snapshot of the scheduler counters. Safe for concurrent use.
func (s *Scheduler) Stats() types.Stats {
	stats := types.Stats{
		UpdatesApplied: s.updatesApplied.Load(),
		Emissions:      s.emissions.Load(),
		Suppressed:     s.suppressed.Load(),
		BidLevels:      int(s.bidLevels.Load()),
		AskLevels:      int(s.askLevels.Load()),
		Pending:        s.pending.Load(),
	}
	if p := s.topBid.Load(); p != nil {
		stats.TopBid = *p
	}
	if p := s.topAsk.Load(); p != nil {
		stats.TopAsk = *p
	}
	if ms := s.lastUpdateMs.Load(); ms > 0 {
		stats.LastUpdateTime = time.UnixMilli(ms)
	}
	if ms := s.lastEmitMs.Load(); ms > 0 {
		stats.LastEmitTime = time.UnixMilli(ms)
	}
	return stats
}

func (s *Scheduler) refreshLevels() {
	book := s.reconciler.Book()
	bids, asks := book.Len(types.Bid), book.Len(types.Ask)
	s.bidLevels.Store(int64(bids))
	s.askLevels.Store(int64(asks))
	metrics.ReplicaLevels.WithLabelValues(string(types.Bid)).Set(float64(bids))
	metrics.ReplicaLevels.WithLabelValues(string(types.Ask)).Set(float64(asks))

	// Stats readers get these copies; the replica itself stays on the Run goroutine
	s.topBid.Store(bestPrice(book, types.Bid))
	s.topAsk.Store(bestPrice(book, types.Ask))
}

func bestPrice(book *LevelSet, side types.Side) *decimal.Decimal {
	level, ok := book.Best(side)
	if !ok {
		return nil
	}
	price := level.Price
	return &price
}
