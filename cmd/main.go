package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookrecorder/internal/aggregation"
	"bookrecorder/internal/config"
	"bookrecorder/internal/exchange"
	"bookrecorder/internal/factory"
	applog "bookrecorder/internal/infra/log"
	"bookrecorder/internal/metrics"
	"bookrecorder/internal/orderbook"
	"bookrecorder/internal/store"
	"bookrecorder/internal/types"
	"bookrecorder/internal/websocket"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func main() {
	var configPath = flag.String("config", "", "Path to a yaml config file (overrides BOOKRECORDER_CONFIG)")
	var symbol = flag.String("symbol", "", "Trading symbol to record")
	var depth = flag.Int("depth", 0, "Number of levels per side to record")
	var logInterval = flag.Duration("log-interval", 30*time.Second, "Interval for logging recorder stats")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *symbol != "" {
		cfg.Exchange.Symbol = *symbol
	}
	if *depth > 0 {
		cfg.Book.Depth = *depth
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := applog.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	instance := uuid.NewString()
	logger = logger.With().Str("instance", instance).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, instance, *logInterval, logger); err != nil {
		logger.Error().Err(err).Msg("recorder stopped")
		logCloser.Close()
		os.Exit(1)
	}
	logger.Info().Msg("recorder stopped")
}

func run(ctx context.Context, cfg config.Config, instance string, logInterval time.Duration, logger zerolog.Logger) error {
	registry := metrics.Init(logger)

	ex, err := factory.NewExchange(factory.ExchangeConfig{
		Name:             exchange.ExchangeName(cfg.Exchange.Name),
		Symbol:           cfg.Exchange.Symbol,
		RESTURL:          cfg.Exchange.RESTURL,
		WSURL:            cfg.Exchange.WSURL,
		SnapshotLimit:    cfg.Exchange.SnapshotLimit,
		HandshakeTimeout: cfg.HandshakeTimeout(),
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	defer ex.Close()

	logger.Info().
		Str("exchange", cfg.Exchange.Name).
		Str("symbol", cfg.Exchange.Symbol).
		Int("depth", cfg.Book.Depth).
		Str("volume", cfg.Book.Volume).
		Strs("sinks", cfg.Sink.Kinds).
		Msg("starting order book recorder")

	// the stream is only dialed once the replica is seeded
	snapshot, err := ex.GetSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("initial snapshot: %w", err)
	}

	convention, err := types.ParseVolumeConvention(cfg.Book.Volume)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.Book.Timezone)
	if err != nil {
		return err
	}
	agg := aggregation.New(aggregation.Options{
		Convention: convention,
		Platform:   cfg.Book.Platform,
		Symbol:     cfg.Exchange.Symbol,
		Location:   loc,
	})

	sinks, err := openSinks(ctx, cfg, instance)
	if err != nil {
		return err
	}

	var server *websocket.Server
	if cfg.Server.Enabled {
		server = websocket.NewServer(websocket.Config{
			Addr:     cfg.Server.Addr,
			Exchange: cfg.Exchange.Name,
			Symbol:   cfg.Exchange.Symbol,
			Registry: registry,
			Health:   ex,
			Logger:   logger,
		})
		sinks = append(sinks, server)
	}

	dispatcher := store.NewDispatcher(sinks, store.DispatcherConfig{
		QueueSize:    cfg.Sink.QueueSize,
		WriteTimeout: cfg.WriteTimeout(),
	}, logger)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing sinks")
		}
	}()

	scheduler := orderbook.NewScheduler(
		orderbook.NewReconciler(orderbook.NewLevelSet()),
		orderbook.NewChangeGate(),
		dispatcher,
		orderbook.SchedulerConfig{
			Depth:      cfg.Book.Depth,
			Interval:   cfg.EmitInterval(),
			Aggregator: agg,
			Clock:      orderbook.WallClock(),
			Logger:     logger,
		},
	)
	if err := scheduler.Seed(snapshot); err != nil {
		return fmt.Errorf("seed replica: %w", err)
	}
	logger.Info().
		Int64("last_update_id", snapshot.LastUpdateID).
		Int("bids", len(snapshot.Bids)).
		Int("asks", len(snapshot.Asks)).
		Msg("replica seeded from snapshot")

	if server != nil {
		server.SetStats(scheduler)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("status server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("status server shutdown")
			}
		}()
	}

	if err := ex.Connect(ctx); err != nil {
		return err
	}

	go logStats(ctx, scheduler, ex, logInterval, logger)

	err = scheduler.Run(ctx, ex.Updates())
	switch {
	case errors.Is(err, context.Canceled):
		logger.Info().Msg("shutting down")
		return nil
	case errors.Is(err, orderbook.ErrStreamClosed):
		if streamErr := ex.Err(); streamErr != nil {
			return fmt.Errorf("depth stream: %w", streamErr)
		}
		return err
	default:
		return err
	}
}

func openSinks(ctx context.Context, cfg config.Config, instance string) ([]store.Sink, error) {
	var sinks []store.Sink
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}
	for _, kind := range cfg.Sink.Kinds {
		switch kind {
		case config.SinkSQL:
			s, err := store.NewSQLSink(ctx, store.SQLConfig{
				Driver:      cfg.Sink.SQL.Driver,
				DSN:         cfg.Sink.SQL.DSN,
				Table:       cfg.Sink.SQL.Table,
				CreateTable: cfg.Sink.SQL.CreateTable,
				Timezone:    cfg.Book.Timezone,
			})
			if err != nil {
				closeAll()
				return nil, err
			}
			sinks = append(sinks, s)
		case config.SinkPebble:
			s, err := store.NewPebbleSink(cfg.Sink.Pebble.Path)
			if err != nil {
				closeAll()
				return nil, err
			}
			sinks = append(sinks, s)
		case config.SinkKafka:
			sinks = append(sinks, store.NewKafkaSink(store.KafkaConfig{
				Brokers: cfg.Sink.Kafka.Brokers,
				Topic:   cfg.Sink.Kafka.Topic,
			}, instance))
		}
	}
	return sinks, nil
}

func logStats(ctx context.Context, scheduler *orderbook.Scheduler, ex exchange.Exchange, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := scheduler.Stats()
			health := ex.Health()
			logger.Info().
				Bool("connected", health.Connected).
				Int64("messages", health.MessageCount).
				Int64("updates", stats.UpdatesApplied).
				Int64("emissions", stats.Emissions).
				Int64("suppressed", stats.Suppressed).
				Int("bid_levels", stats.BidLevels).
				Int("ask_levels", stats.AskLevels).
				Msg("recorder stats")
		}
	}
}
