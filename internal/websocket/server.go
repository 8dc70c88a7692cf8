package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"bookrecorder/internal/exchange"
	"bookrecorder/internal/metrics"
	"bookrecorder/internal/types"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const writeWait = 5 * time.Second

// StatsSource reports the recorder's counters
type StatsSource interface {
	Stats() types.Stats
}

// HealthSource reports the upstream connection state
type HealthSource interface {
	Health() exchange.HealthStatus
}

// HealthMessage is the /healthz response body
type HealthMessage struct {
	Status   string                `json:"status"`
	Exchange string                `json:"exchange"`
	Symbol   string                `json:"symbol"`
	Stream   exchange.HealthStatus `json:"stream"`
	Book     BookStats             `json:"book"`
}

// BookStats is the wire form of types.Stats
type BookStats struct {
	UpdatesApplied int64  `json:"updatesApplied"`
	Emissions      int64  `json:"emissions"`
	Suppressed     int64  `json:"suppressed"`
	BidLevels      int    `json:"bidLevels"`
	AskLevels      int    `json:"askLevels"`
	TopBid         string `json:"topBid,omitempty"`
	TopAsk         string `json:"topAsk,omitempty"`
	Pending        bool   `json:"pending"`
	LastUpdate     *int64 `json:"lastUpdate,omitempty"`
	LastEmit       *int64 `json:"lastEmit,omitempty"`
}

// Config configures the status server
type Config struct {
	Addr     string
	Exchange string
	Symbol   string
	Registry *prometheus.Registry
	Stats    StatsSource
	Health   HealthSource
	Logger   zerolog.Logger
}

// Server exposes emitted records over websocket and HTTP. It is also a
// store.Sink so it receives records through the same fan-out as the durable sinks.
type Server struct {
	cfg        Config
	httpServer *http.Server
	router     *mux.Router
	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]bool
	clientsMux sync.RWMutex
	broadcast  chan types.Record
	latest     atomic.Pointer[types.Record]
	stats      atomic.Pointer[statsHolder]
	done       chan struct{}
	closeOnce  sync.Once
	logger     zerolog.Logger
}

// NewServer builds the router and starts the broadcaster
func NewServer(cfg Config) *Server {
	s := &Server{
		cfg:       cfg,
		router:    mux.NewRouter(),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan types.Record, 100),
		done:      make(chan struct{}),
		logger:    cfg.Logger.With().Str("component", "status-server").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	s.router.HandleFunc("/book", s.handleBook).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if cfg.Registry != nil {
		s.router.Handle("/metrics", metrics.Handler(cfg.Registry)).Methods(http.MethodGet)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if cfg.Stats != nil {
		s.SetStats(cfg.Stats)
	}

	go s.broadcastMessages()
	return s
}

// SetStats attaches the counters reported by /healthz once they exist
func (s *Server) SetStats(src StatsSource) {
	s.stats.Store(&statsHolder{src: src})
}

type statsHolder struct {
	src StatsSource
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("status server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Name implements store.Sink
func (s *Server) Name() string {
	return "websocket"
}

// Persist records the latest emission and queues it for connected clients.
// Slow clients never hold up the dispatcher; a full broadcast queue drops the push.
func (s *Server) Persist(_ context.Context, record types.Record) error {
	s.latest.Store(&record)
	select {
	case s.broadcast <- record:
	default:
		s.logger.Warn().Msg("broadcast queue full, skipping push")
	}
	return nil
}

// Close disconnects every client and stops the broadcaster
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.clientsMux.Lock()
		for client := range s.clients {
			_ = client.Close()
			delete(s.clients, client)
		}
		s.clientsMux.Unlock()
	})
	return nil
}

// Latest returns the most recent emitted record
func (s *Server) Latest() (types.Record, bool) {
	rec := s.latest.Load()
	if rec == nil {
		return types.Record{}, false
	}
	return *rec, true
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade error")
		return
	}

	// the first push happens before registration so the broadcaster is the
	// only writer afterwards
	if rec, ok := s.Latest(); ok {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(rec); err != nil {
			_ = conn.Close()
			return
		}
	}

	s.clientsMux.Lock()
	s.clients[conn] = true
	s.clientsMux.Unlock()

	s.logger.Info().Str("remote", r.RemoteAddr).Msg("websocket client connected")

	defer func() {
		s.removeClient(conn)
		s.logger.Info().Str("remote", r.RemoteAddr).Msg("websocket client disconnected")
	}()

	// clients only listen; reading drives ping/close handling
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) handleBook(w http.ResponseWriter, _ *http.Request) {
	rec, ok := s.Latest()
	if !ok {
		http.Error(w, "no record emitted yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	msg := HealthMessage{
		Status:   "ok",
		Exchange: s.cfg.Exchange,
		Symbol:   s.cfg.Symbol,
	}
	if s.cfg.Health != nil {
		msg.Stream = s.cfg.Health.Health()
	}
	if h := s.stats.Load(); h != nil && h.src != nil {
		msg.Book = toBookStats(h.src.Stats())
	}

	code := http.StatusOK
	if s.cfg.Health != nil && !msg.Stream.Connected {
		msg.Status = "disconnected"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, msg)
}

func (s *Server) broadcastMessages() {
	for {
		select {
		case <-s.done:
			return
		case rec := <-s.broadcast:
			s.clientsMux.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for client := range s.clients {
				clients = append(clients, client)
			}
			s.clientsMux.RUnlock()

			for _, client := range clients {
				s.writeTo(client, rec)
			}
		}
	}
}

func (s *Server) writeTo(client *websocket.Conn, rec types.Record) {
	_ = client.SetWriteDeadline(time.Now().Add(writeWait))
	if err := client.WriteJSON(rec); err != nil {
		s.logger.Debug().Err(err).Msg("error writing to client")
		s.removeClient(client)
	}
}

func (s *Server) removeClient(client *websocket.Conn) {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()
	if s.clients[client] {
		delete(s.clients, client)
		_ = client.Close()
	}
}

func toBookStats(stats types.Stats) BookStats {
	out := BookStats{
		UpdatesApplied: stats.UpdatesApplied,
		Emissions:      stats.Emissions,
		Suppressed:     stats.Suppressed,
		BidLevels:      stats.BidLevels,
		AskLevels:      stats.AskLevels,
		Pending:        stats.Pending,
	}
	if !stats.TopBid.IsZero() {
		out.TopBid = stats.TopBid.String()
	}
	if !stats.TopAsk.IsZero() {
		out.TopAsk = stats.TopAsk.String()
	}
	if !stats.LastUpdateTime.IsZero() {
		ms := stats.LastUpdateTime.UnixMilli()
		out.LastUpdate = &ms
	}
	if !stats.LastEmitTime.IsZero() {
		ms := stats.LastEmitTime.UnixMilli()
		out.LastEmit = &ms
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
