package binance

import (
	"fmt"
	"time"

	"bookrecorder/internal/exchange"

	"github.com/sugawarayuuta/sonnet"
)

// SnapshotResponse represents the REST API response for Binance order book snapshot.
// Bids and asks are pointers so a missing key can be told apart from an empty book.
type SnapshotResponse struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         *[][]string `json:"bids"`
	Asks         *[][]string `json:"asks"`
}

// APIError is the error body Binance returns on non-200 responses
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("binance api error %d: %s", e.Code, e.Msg)
}

// DepthMessage is a websocket depth frame. It accepts the partial book shape
// (bids/asks), the diff shape (b/a) and the combined stream envelope (stream/data).
type DepthMessage struct {
	Stream string        `json:"stream"`
	Data   *DepthMessage `json:"data"`

	EventType     string `json:"e"`
	EventTime     int64  `json:"E"`
	Symbol        string `json:"s"`
	FirstUpdateID int64  `json:"U"`
	FinalUpdateID int64  `json:"u"`
	LastUpdateID  int64  `json:"lastUpdateId"`

	Bids     *[][]string `json:"bids"`
	Asks     *[][]string `json:"asks"`
	DiffBids *[][]string `json:"b"`
	DiffAsks *[][]string `json:"a"`
}

// ParseSnapshot decodes a REST depth body into the canonical snapshot
func ParseSnapshot(body []byte) (*SnapshotResponse, error) {
	var resp SnapshotResponse
	if err := sonnet.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: snapshot: %v", exchange.ErrMalformed, err)
	}
	if resp.Bids == nil || resp.Asks == nil {
		return nil, fmt.Errorf("%w: snapshot missing bids or asks", exchange.ErrMalformed)
	}
	return &resp, nil
}

// ParseDepthMessage decodes one websocket frame into a canonical depth update.
// Nothing is returned unless the whole frame matches the schema.
func ParseDepthMessage(frame []byte, receivedAt time.Time) (*exchange.DepthUpdate, error) {
	var msg DepthMessage
	if err := sonnet.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("%w: depth frame: %v", exchange.ErrMalformed, err)
	}
	if msg.Data != nil {
		msg = *msg.Data
	}

	rawBids := msg.Bids
	if rawBids == nil {
		rawBids = msg.DiffBids
	}
	rawAsks := msg.Asks
	if rawAsks == nil {
		rawAsks = msg.DiffAsks
	}
	if rawBids == nil || rawAsks == nil {
		return nil, fmt.Errorf("%w: depth frame missing bids or asks", exchange.ErrMalformed)
	}

	bids, err := exchange.ConvertLevels(*rawBids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	asks, err := exchange.ConvertLevels(*rawAsks)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}

	update := &exchange.DepthUpdate{
		Symbol:        msg.Symbol,
		ReceivedAt:    receivedAt,
		FirstUpdateID: msg.FirstUpdateID,
		FinalUpdateID: msg.FinalUpdateID,
		Bids:          bids,
		Asks:          asks,
	}
	if msg.EventTime > 0 {
		update.EventTime = time.UnixMilli(msg.EventTime)
	}
	if update.FinalUpdateID == 0 {
		update.FinalUpdateID = msg.LastUpdateID
	}
	return update, nil
}
