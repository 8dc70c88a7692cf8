package factory

import (
	"fmt"
	"time"

	"bookrecorder/internal/exchange"
	"bookrecorder/internal/exchange/binance"

	"github.com/rs/zerolog"
)

// ExchangeConfig holds configuration for creating an exchange
type ExchangeConfig struct {
	Name             exchange.ExchangeName
	Symbol           string
	RESTURL          string
	WSURL            string
	SnapshotLimit    int
	HandshakeTimeout time.Duration
	Logger           zerolog.Logger
}

// NewExchange creates a new exchange instance based on the configuration
func NewExchange(config ExchangeConfig) (exchange.Exchange, error) {
	switch config.Name {
	case exchange.Binance, exchange.BinanceUS:
		return binance.NewSpotExchange(config.Name, binance.Config{
			Symbol:           config.Symbol,
			RESTURL:          config.RESTURL,
			WSURL:            config.WSURL,
			SnapshotLimit:    config.SnapshotLimit,
			HandshakeTimeout: config.HandshakeTimeout,
			Logger:           config.Logger,
		}), nil

	default:
		return nil, fmt.Errorf("unknown exchange: %s", config.Name)
	}
}

// ValidateExchangeName checks if the exchange name is supported
func ValidateExchangeName(name string) bool {
	switch exchange.ExchangeName(name) {
	case exchange.Binance, exchange.BinanceUS:
		return true
	default:
		return false
	}
}

// GetSupportedExchanges returns a list of all supported exchanges
func GetSupportedExchanges() []exchange.ExchangeName {
	return []exchange.ExchangeName{exchange.Binance, exchange.BinanceUS}
}
