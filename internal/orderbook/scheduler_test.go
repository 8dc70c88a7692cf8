package orderbook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bookrecorder/internal/aggregation"
	"bookrecorder/internal/exchange"
	"bookrecorder/internal/store"
	"bookrecorder/internal/types"

	"github.com/rs/zerolog"
)

// manualClock hands out timers that only fire when the test says so
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []chan time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.UnixMilli(1700000000000)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.timers = append(c.timers, ch)
	return ch
}

func (c *manualClock) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// fire triggers the most recently armed timer
func (c *manualClock) fire(t *testing.T) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		t.Fatal("no timer armed")
	}
	c.timers[len(c.timers)-1] <- c.now
}

type recordingEmitter struct {
	mu      sync.Mutex
	records []types.Record
	notify  chan types.Record
	err     error
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{notify: make(chan types.Record, 16)}
}

func (e *recordingEmitter) Enqueue(_ context.Context, record types.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.records = append(e.records, record)
	e.notify <- record
	return nil
}

func (e *recordingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.records)
}

func newTestScheduler(t *testing.T, clock Clock, emitter Emitter, volume types.VolumeConvention) *Scheduler {
	t.Helper()
	s := NewScheduler(NewReconciler(NewLevelSet()), NewChangeGate(), emitter, SchedulerConfig{
		Depth:    2,
		Interval: time.Second,
		Aggregator: aggregation.New(aggregation.Options{
			Convention: volume,
			Platform:   "Binance",
			Symbol:     "BTCUSDT",
		}),
		Clock:  clock,
		Logger: zerolog.Nop(),
	})
	err := s.Seed(&exchange.Snapshot{
		Bids: raw("100", "1", "99", "2"),
		Asks: raw("101", "1", "102", "2"),
	})
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	return s
}

func update(at time.Time, bids, asks []exchange.PriceLevel) *exchange.DepthUpdate {
	return &exchange.DepthUpdate{ReceivedAt: at, Bids: bids, Asks: asks}
}

func TestSchedulerArmsOncePerInterval(t *testing.T) {
	clock := newManualClock()
	emitter := newRecordingEmitter()
	s := newTestScheduler(t, clock, emitter, types.VolumeBase)

	if s.Pending() {
		t.Fatal("Expected Idle before any update")
	}

	first := time.UnixMilli(1700000001000)
	for i := 0; i < 5; i++ {
		at := first.Add(time.Duration(i) * 100 * time.Millisecond)
		if err := s.HandleUpdate(update(at, raw("100", "1"), nil)); err != nil {
			t.Fatalf("HandleUpdate failed: %v", err)
		}
	}

	if !s.Pending() {
		t.Error("Expected Pending after updates")
	}
	if clock.armed() != 1 {
		t.Errorf("Expected 1 armed timer for a burst, got %d", clock.armed())
	}
	if got := s.Stats().UpdatesApplied; got != 5 {
		t.Errorf("Expected 5 updates applied, got %d", got)
	}

	emitted, err := s.Fire(context.Background())
	if err != nil || !emitted {
		t.Fatalf("Expected emission, got emitted=%v err=%v", emitted, err)
	}
	if s.Pending() {
		t.Error("Expected Idle after fire")
	}
	if rec := emitter.records[0]; !rec.Timestamp.Equal(first) {
		t.Errorf("Expected timestamp of the arming update %v, got %v", first, rec.Timestamp)
	}

	if err := s.HandleUpdate(update(first.Add(2*time.Second), raw("98", "1"), nil)); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	if clock.armed() != 2 {
		t.Errorf("Expected a new timer after returning to Idle, got %d", clock.armed())
	}
}

func TestSchedulerEmitsStateAtFireTime(t *testing.T) {
	clock := newManualClock()
	emitter := newRecordingEmitter()
	s := newTestScheduler(t, clock, emitter, types.VolumeBase)

	at := time.UnixMilli(1700000001000)
	// arming update moves nothing at the top
	if err := s.HandleUpdate(update(at, raw("98", "5"), nil)); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	// later updates inside the interval move the top
	if err := s.HandleUpdate(update(at.Add(300*time.Millisecond), raw("100.5", "3"), nil)); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	if err := s.HandleUpdate(update(at.Add(600*time.Millisecond), nil, raw("101", "0"))); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}

	if _, err := s.Fire(context.Background()); err != nil {
		t.Fatalf("Fire failed: %v", err)
	}
	if emitter.count() != 1 {
		t.Fatalf("Expected 1 record, got %d", emitter.count())
	}
	rec := emitter.records[0]
	if !rec.Bids[0].Price.Equal(d("100.5")) || !rec.Asks[0].Price.Equal(d("102")) {
		t.Errorf("Expected top 100.5/102 at fire time, got %s/%s", rec.Bids[0].Price, rec.Asks[0].Price)
	}
	if len(rec.Bids) != 2 || rec.Bids[1].Level != 2 {
		t.Errorf("Expected depth-limited bids with levels 1..2, got %+v", rec.Bids)
	}
}

func TestSchedulerScenarioRemoveAndUpdate(t *testing.T) {
	clock := newManualClock()
	emitter := newRecordingEmitter()
	s := newTestScheduler(t, clock, emitter, types.VolumeBase)

	// establish the seeded top of book as last emitted
	if err := s.HandleUpdate(update(clock.Now(), raw("100", "1"), nil)); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	if emitted, _ := s.Fire(context.Background()); !emitted {
		t.Fatal("Expected initial emission")
	}

	if err := s.HandleUpdate(update(clock.Now(), raw("100", "0"), raw("101", "0.5"))); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	emitted, err := s.Fire(context.Background())
	if err != nil || !emitted {
		t.Fatalf("Expected emission after top bid change, got emitted=%v err=%v", emitted, err)
	}

	rec := emitter.records[1]
	if !rec.Bids[0].Price.Equal(d("99")) {
		t.Errorf("Expected top bid 99, got %s", rec.Bids[0].Price)
	}
	stats := s.Stats()
	if !stats.TopBid.Equal(d("99")) || !stats.TopAsk.Equal(d("101")) {
		t.Errorf("Expected stats top of book 99/101, got %s/%s", stats.TopBid, stats.TopAsk)
	}
	if !rec.Asks[0].Price.Equal(d("101")) || !rec.Asks[0].Volume.Equal(d("0.5")) {
		t.Errorf("Expected top ask 101 with volume 0.5, got %s/%s", rec.Asks[0].Price, rec.Asks[0].Volume)
	}
}

func TestSchedulerEqualQuantityUpdateDoesNotEmit(t *testing.T) {
	clock := newManualClock()
	emitter := newRecordingEmitter()
	s := newTestScheduler(t, clock, emitter, types.VolumeBase)

	if err := s.HandleUpdate(update(clock.Now(), raw("99", "2"), nil)); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	if emitted, _ := s.Fire(context.Background()); !emitted {
		t.Fatal("Expected initial emission")
	}
	before := dump(s.reconciler.Book())

	if err := s.HandleUpdate(update(clock.Now(), raw("99", "2"), raw("102", "2"))); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	if dump(s.reconciler.Book()) != before {
		t.Errorf("Expected unchanged replica, got %s want %s", dump(s.reconciler.Book()), before)
	}
	emitted, err := s.Fire(context.Background())
	if err != nil {
		t.Fatalf("Fire failed: %v", err)
	}
	if emitted {
		t.Error("Expected no emission when top of book is unchanged")
	}
	if got := s.Stats().Suppressed; got != 1 {
		t.Errorf("Expected 1 suppressed firing, got %d", got)
	}
}

func TestSchedulerQuoteVolume(t *testing.T) {
	clock := newManualClock()
	emitter := newRecordingEmitter()
	s := newTestScheduler(t, clock, emitter, types.VolumeQuote)

	if err := s.HandleUpdate(update(clock.Now(), raw("99", "2"), nil)); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	if _, err := s.Fire(context.Background()); err != nil {
		t.Fatalf("Fire failed: %v", err)
	}
	rec := emitter.records[0]
	if !rec.Bids[1].Volume.Equal(d("198")) {
		t.Errorf("Expected quote volume 198 for 99x2, got %s", rec.Bids[1].Volume)
	}
	if !rec.Asks[0].Volume.Equal(d("101")) {
		t.Errorf("Expected quote volume 101 for 101x1, got %s", rec.Asks[0].Volume)
	}
}

func TestSchedulerEnqueueFailure(t *testing.T) {
	clock := newManualClock()
	emitter := newRecordingEmitter()
	emitter.err = errors.New("queue closed")
	s := newTestScheduler(t, clock, emitter, types.VolumeBase)

	if err := s.HandleUpdate(update(clock.Now(), raw("100", "1"), nil)); err != nil {
		t.Fatalf("HandleUpdate failed: %v", err)
	}
	emitted, err := s.Fire(context.Background())
	if err == nil || emitted {
		t.Fatalf("Expected enqueue error, got emitted=%v err=%v", emitted, err)
	}
	if s.Pending() {
		t.Error("Expected Idle after a failed emission")
	}
	if got := s.Stats().Emissions; got != 0 {
		t.Errorf("Expected 0 emissions counted, got %d", got)
	}
}

func TestSchedulerRun(t *testing.T) {
	clock := newManualClock()
	emitter := newRecordingEmitter()
	s := newTestScheduler(t, clock, emitter, types.VolumeBase)

	updates := make(chan *exchange.DepthUpdate)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background(), updates)
	}()

	updates <- update(clock.Now(), raw("100.5", "1"), nil)
	// the second send completes only once the first update has armed the timer
	updates <- update(clock.Now(), nil, raw("100.8", "1"))
	clock.fire(t)

	select {
	case rec := <-emitter.notify:
		if !rec.Bids[0].Price.Equal(d("100.5")) || !rec.Asks[0].Price.Equal(d("100.8")) {
			t.Errorf("Expected top 100.5/100.8, got %s/%s", rec.Bids[0].Price, rec.Asks[0].Price)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for emission")
	}

	updates <- update(clock.Now(), raw("100.5", "x"), nil)

	select {
	case err := <-done:
		if !errors.Is(err, exchange.ErrMalformed) {
			t.Errorf("Expected ErrMalformed from Run, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Run to stop")
	}
}

func TestSchedulerRunStopsOnClosedStream(t *testing.T) {
	s := newTestScheduler(t, newManualClock(), newRecordingEmitter(), types.VolumeBase)
	updates := make(chan *exchange.DepthUpdate)
	close(updates)
	if err := s.Run(context.Background(), updates); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Expected ErrStreamClosed, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, make(chan *exchange.DepthUpdate)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// stuckSink holds every write until released
type stuckSink struct {
	release chan struct{}
}

func (s *stuckSink) Name() string { return "stuck" }

func (s *stuckSink) Persist(ctx context.Context, _ types.Record) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *stuckSink) Close() error { return nil }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSchedulerRunNotStalledByStuckSink(t *testing.T) {
	clock := newManualClock()
	sink := &stuckSink{release: make(chan struct{})}
	dispatcher := store.NewDispatcher([]store.Sink{sink}, store.DispatcherConfig{
		QueueSize:    1,
		WriteTimeout: time.Minute,
	}, zerolog.Nop())
	s := newTestScheduler(t, clock, dispatcher, types.VolumeBase)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan *exchange.DepthUpdate)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, updates)
	}()

	bids := []string{"100.1", "100.2", "100.3", "100.4", "100.5"}
	for i, bid := range bids {
		select {
		case updates <- update(clock.Now(), raw(bid, "1"), nil):
		case <-time.After(2 * time.Second):
			t.Fatalf("update %d (bid %s) not accepted while the sink is stuck", i+1, bid)
		}
		waitFor(t, "timer to arm", func() bool { return s.Stats().Pending })
		clock.fire(t)
		waitFor(t, "timer to fire", func() bool { return !s.Stats().Pending })
	}

	select {
	case updates <- update(clock.Now(), raw("100.6", "1"), nil):
	case <-time.After(2 * time.Second):
		t.Fatal("final update not accepted while the sink is stuck")
	}
	waitFor(t, "final update", func() bool { return s.Stats().UpdatesApplied == int64(len(bids)+1) })

	// at most one write in flight and one queued; the rest were dropped
	if got := s.Stats().Emissions; got < 1 || got > 2 {
		t.Errorf("Expected 1 or 2 accepted emissions, got %d", got)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	close(sink.release)
	if err := dispatcher.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
