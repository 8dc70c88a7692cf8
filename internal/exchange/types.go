package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ExchangeName represents supported exchange identifiers
type ExchangeName string

const (
	Binance   ExchangeName = "binance"
	BinanceUS ExchangeName = "binanceus"
)

// ErrMalformed marks a snapshot or stream payload that does not match the expected schema
var ErrMalformed = errors.New("malformed payload")

// Exchange defines the interface that all exchange adapters must implement
type Exchange interface {
	// GetName returns the exchange name (e.g., "binance")
	GetName() ExchangeName

	// GetSymbol returns the trading symbol
	GetSymbol() string

	// Connect establishes the streaming connection and starts reading updates
	Connect(ctx context.Context) error

	// Close closes the connection gracefully
	Close() error

	// GetSnapshot fetches the full orderbook snapshot
	GetSnapshot(ctx context.Context) (*Snapshot, error)

	// Updates returns a channel that receives depth updates in canonical format.
	// The channel is closed when the stream terminates.
	Updates() <-chan *DepthUpdate

	// Err returns the error that terminated the stream, if any
	Err() error

	// IsConnected returns connection status
	IsConnected() bool

	// Health returns connection health information
	Health() HealthStatus
}

// Snapshot represents a canonical orderbook snapshot (normalized across exchanges)
type Snapshot struct {
	Exchange     ExchangeName // Exchange name
	Symbol       string       // Trading symbol
	LastUpdateID int64        // Last update ID from exchange
	Bids         []PriceLevel // Bid levels [price, quantity]
	Asks         []PriceLevel // Ask levels [price, quantity]
	Timestamp    time.Time    // Snapshot timestamp
}

// DepthUpdate represents a canonical depth update event (normalized across exchanges)
type DepthUpdate struct {
	Exchange      ExchangeName // Exchange name
	Symbol        string       // Trading symbol
	EventTime     time.Time    // Venue event timestamp, zero when the venue omits it
	ReceivedAt    time.Time    // Local arrival time of the frame
	FirstUpdateID int64        // First update ID in this event
	FinalUpdateID int64        // Final update ID in this event
	Bids          []PriceLevel // Updated bid levels
	Asks          []PriceLevel // Updated ask levels
}

// PriceLevel represents a single price level [price, quantity]
type PriceLevel struct {
	Price    string // Price as string to avoid precision loss
	Quantity string // Quantity as string to avoid precision loss
}

// HealthStatus represents connection health information
type HealthStatus struct {
	Connected     bool       `json:"connected"`
	LastPing      time.Time  `json:"lastPing"`
	MessageCount  int64      `json:"messageCount"`
	ErrorCount    int64      `json:"errorCount"`
	ReconnectTime *time.Time `json:"reconnectTime,omitempty"`
}

// ConvertLevels converts raw [price, quantity] pairs into canonical levels.
// Every entry must hold exactly two elements.
func ConvertLevels(raw [][]string) ([]PriceLevel, error) {
	levels := make([]PriceLevel, len(raw))
	for i, entry := range raw {
		if len(entry) != 2 {
			return nil, fmt.Errorf("%w: level %d has %d elements, want 2", ErrMalformed, i, len(entry))
		}
		levels[i] = PriceLevel{
			Price:    entry[0],
			Quantity: entry[1],
		}
	}
	return levels, nil
}
