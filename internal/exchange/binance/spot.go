package binance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"bookrecorder/internal/exchange"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sugawarayuuta/sonnet"
)

const (
	defaultSnapshotLimit    = 1000
	defaultBufferSize       = 1000
	defaultHandshakeTimeout = 10 * time.Second
	defaultRequestTimeout   = 10 * time.Second
)

// Config holds the adapter settings. Empty URLs fall back to the venue defaults.
type Config struct {
	Symbol           string
	RESTURL          string
	WSURL            string
	SnapshotLimit    int
	BufferSize       int
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	Logger           zerolog.Logger
}

// DefaultURLs returns the REST snapshot and websocket depth endpoints for a venue
func DefaultURLs(name exchange.ExchangeName, symbol string, limit int) (restURL, wsURL string) {
	restHost, wsHost := "api.binance.com", "stream.binance.com:9443"
	if name == exchange.BinanceUS {
		restHost, wsHost = "api.binance.us", "stream.binance.us:9443"
	}
	restURL = fmt.Sprintf("https://%s/api/v3/depth?symbol=%s&limit=%d", restHost, strings.ToUpper(symbol), limit)
	wsURL = fmt.Sprintf("wss://%s/ws/%s@depth", wsHost, strings.ToLower(symbol))
	return restURL, wsURL
}

// SpotExchange implements the Exchange interface for Binance Spot
type SpotExchange struct {
	name       exchange.ExchangeName
	symbol     string
	wsURL      string
	restURL    string
	wsConn     *websocket.Conn
	httpClient *http.Client
	handshake  time.Duration
	updateChan chan *exchange.DepthUpdate
	done       chan struct{}
	closeOnce  sync.Once
	ctx        context.Context
	cancel     context.CancelFunc
	healthMu   sync.Mutex
	health     exchange.HealthStatus
	errMu      sync.Mutex
	err        error
	logger     zerolog.Logger
}

// NewSpotExchange creates a new Binance Spot exchange instance
func NewSpotExchange(name exchange.ExchangeName, config Config) *SpotExchange {
	ctx, cancel := context.WithCancel(context.Background())

	limit := config.SnapshotLimit
	if limit <= 0 {
		limit = defaultSnapshotLimit
	}
	restURL, wsURL := DefaultURLs(name, config.Symbol, limit)
	if config.RESTURL != "" {
		restURL = config.RESTURL
	}
	if config.WSURL != "" {
		wsURL = config.WSURL
	}
	bufferSize := config.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	handshake := config.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	requestTimeout := config.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	ex := &SpotExchange{
		name:       name,
		symbol:     config.Symbol,
		wsURL:      wsURL,
		restURL:    restURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		handshake:  handshake,
		updateChan: make(chan *exchange.DepthUpdate, bufferSize),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		logger:     config.Logger.With().Str("exchange", string(name)).Str("symbol", config.Symbol).Logger(),
	}

	return ex
}

// GetName returns the exchange name
func (e *SpotExchange) GetName() exchange.ExchangeName {
	return e.name
}

// GetSymbol returns the trading symbol
func (e *SpotExchange) GetSymbol() string {
	return e.symbol
}

// Connect establishes WebSocket connection to Binance Spot
func (e *SpotExchange) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: e.handshake,
	}

	conn, _, err := dialer.DialContext(ctx, e.wsURL, nil)
	if err != nil {
		e.incrementErrorCount()
		return fmt.Errorf("websocket connection failed: %w", err)
	}

	e.wsConn = conn
	e.updateConnectionStatus(true)
	e.logger.Info().Str("url", e.wsURL).Msg("websocket connected")

	go e.readMessages()

	return nil
}

// Close closes the WebSocket connection
func (e *SpotExchange) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.cancel()
		close(e.done)

		if e.wsConn == nil {
			return
		}
		deadline := time.Now().Add(time.Second)
		if werr := e.wsConn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline); werr != nil {
			e.logger.Debug().Err(werr).Msg("error sending close message")
		}
		e.updateConnectionStatus(false)
		err = e.wsConn.Close()
	})
	return err
}

// GetSnapshot fetches the orderbook snapshot via REST API
func (e *SpotExchange) GetSnapshot(ctx context.Context) (*exchange.Snapshot, error) {
	e.logger.Info().Str("url", e.restURL).Msg("fetching orderbook snapshot")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.restURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.incrementErrorCount()
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		e.incrementErrorCount()
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		e.incrementErrorCount()
		var apiErr APIError
		if sonnet.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return nil, fmt.Errorf("snapshot request returned %d: %w", resp.StatusCode, apiErr)
		}
		return nil, fmt.Errorf("snapshot request returned %d", resp.StatusCode)
	}

	binanceSnapshot, err := ParseSnapshot(body)
	if err != nil {
		e.incrementErrorCount()
		return nil, err
	}

	return e.convertSnapshot(binanceSnapshot)
}

// Updates returns a channel that receives depth updates
func (e *SpotExchange) Updates() <-chan *exchange.DepthUpdate {
	return e.updateChan
}

// Err returns the error that stopped the reader
func (e *SpotExchange) Err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.err
}

// IsConnected checks if the WebSocket connection is active
func (e *SpotExchange) IsConnected() bool {
	return e.Health().Connected
}

// Health returns connection health information
func (e *SpotExchange) Health() exchange.HealthStatus {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()
	return e.health
}

// updateHealth applies fn to the health status under the lock
func (e *SpotExchange) updateHealth(fn func(*exchange.HealthStatus)) {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()
	fn(&e.health)
}

// readMessages continuously reads WebSocket messages until the connection
// fails, a frame is malformed or the adapter is closed
func (e *SpotExchange) readMessages() {
	defer close(e.updateChan)
	defer e.updateConnectionStatus(false)

	for {
		_, frame, err := e.wsConn.ReadMessage()
		if err != nil {
			select {
			case <-e.done:
				return
			default:
			}
			e.incrementErrorCount()
			e.setErr(fmt.Errorf("websocket read: %w", err))
			e.logger.Error().Err(err).Msg("websocket read error")
			return
		}
		receivedAt := time.Now()

		e.incrementMessageCount()
		e.updateLastPing(receivedAt)

		update, err := ParseDepthMessage(frame, receivedAt)
		if err != nil {
			e.incrementErrorCount()
			e.setErr(err)
			e.logger.Error().Err(err).Msg("malformed depth frame, stopping stream")
			return
		}
		update.Exchange = e.name
		if update.Symbol == "" {
			update.Symbol = e.symbol
		}

		select {
		case e.updateChan <- update:
		case <-e.ctx.Done():
			return
		case <-e.done:
			return
		}
	}
}

// convertSnapshot converts Binance snapshot to canonical format
func (e *SpotExchange) convertSnapshot(snapshot *SnapshotResponse) (*exchange.Snapshot, error) {
	bids, err := exchange.ConvertLevels(*snapshot.Bids)
	if err != nil {
		return nil, fmt.Errorf("snapshot bids: %w", err)
	}
	asks, err := exchange.ConvertLevels(*snapshot.Asks)
	if err != nil {
		return nil, fmt.Errorf("snapshot asks: %w", err)
	}

	return &exchange.Snapshot{
		Exchange:     e.name,
		Symbol:       e.symbol,
		LastUpdateID: snapshot.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
		Timestamp:    time.Now(),
	}, nil
}

func (e *SpotExchange) setErr(err error) {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	if e.err == nil {
		e.err = err
	}
}

// updateConnectionStatus updates the connection status in health
func (e *SpotExchange) updateConnectionStatus(connected bool) {
	e.updateHealth(func(status *exchange.HealthStatus) {
		status.Connected = connected
		if !connected {
			now := time.Now()
			status.ReconnectTime = &now
		}
	})
}

// incrementMessageCount increments the message count in health
func (e *SpotExchange) incrementMessageCount() {
	e.updateHealth(func(status *exchange.HealthStatus) {
		status.MessageCount++
	})
}

// incrementErrorCount increments the error count in health
func (e *SpotExchange) incrementErrorCount() {
	e.updateHealth(func(status *exchange.HealthStatus) {
		status.ErrorCount++
	})
}

// updateLastPing updates the last ping time in health
func (e *SpotExchange) updateLastPing(at time.Time) {
	e.updateHealth(func(status *exchange.HealthStatus) {
		status.LastPing = at
	})
}
