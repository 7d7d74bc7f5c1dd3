package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/prixroxx/AutomatedTraderMCP/internal/domain"
	"github.com/prixroxx/AutomatedTraderMCP/internal/infra"
)

// tick is the wire format of one price update from the feed.
type tick struct {
	Symbol   string          `json:"symbol"`
	Exchange string          `json:"exchange"`
	LTP      decimal.Decimal `json:"ltp"`
}

// subscribeMsg is sent once per connection to select symbols.
type subscribeMsg struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Config tunes the feed connection.
type Config struct {
	URL          string
	Symbols      []string
	StaleAfter   time.Duration // quotes older than this are unusable
	ReadTimeout  time.Duration
	PingInterval time.Duration
}

// WSFeed is a streaming QuoteProvider. It keeps the last traded price per
// symbol and serves GetQuote from that cache; a price older than StaleAfter
// reads as unavailable rather than silently going stale under a trigger
// decision. Reconnects with exponential backoff.
type WSFeed struct {
	cfg    Config
	clock  domain.Clock
	logger *slog.Logger

	mu     sync.RWMutex
	quotes map[string]domain.Quote // symbol:exchange -> latest
	// onTick, when set, reports each received tick as network liveness.
	// Guarded by mu: the read loop reads it while callers may register late.
	onTick func()

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewWSFeed builds the feed. It holds no connection until Start.
func NewWSFeed(cfg Config, clock domain.Clock, logger *slog.Logger) *WSFeed {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &WSFeed{
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		quotes: make(map[string]domain.Quote),
	}
}

// OnTick registers a liveness callback invoked for every received update.
// Safe to call while the feed is running.
func (f *WSFeed) OnTick(fn func()) {
	f.mu.Lock()
	f.onTick = fn
	f.mu.Unlock()
}

// GetQuote serves the latest cached price for symbol. Returns
// domain.ErrQuoteUnavailable when the symbol was never seen or its last
// update is older than StaleAfter.
func (f *WSFeed) GetQuote(ctx context.Context, symbol, exchange string) (domain.Quote, error) {
	f.mu.RLock()
	quote, ok := f.quotes[symbol+":"+exchange]
	f.mu.RUnlock()

	if !ok {
		return domain.Quote{}, fmt.Errorf("%w: no data for %s", domain.ErrQuoteUnavailable, symbol)
	}
	if age := f.clock.Now().Sub(quote.Timestamp); age > f.cfg.StaleAfter {
		return domain.Quote{}, fmt.Errorf("%w: %s last seen %s ago", domain.ErrQuoteUnavailable, symbol, age.Round(time.Second))
	}
	return quote, nil
}

// Start runs the connect/read loop until ctx is cancelled. Blocking;
// callers run it in a goroutine.
func (f *WSFeed) Start(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			f.closeConn()
			return
		default:
		}

		if err := f.connect(ctx); err != nil {
			delay := infra.Backoff(attempt)
			attempt++
			f.logger.Warn("feed connection failed",
				slog.Any("error", err),
				slog.Duration("retry_in", delay),
				slog.Int("attempt", attempt))

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		f.readLoop(ctx)
	}
}

func (f *WSFeed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, http.Header{})
	if err != nil {
		return err
	}

	if len(f.cfg.Symbols) > 0 {
		sub := subscribeMsg{Action: "subscribe", Symbols: f.cfg.Symbols}
		if err := conn.WriteJSON(sub); err != nil {
			conn.Close()
			return fmt.Errorf("subscribe failed: %w", err)
		}
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	f.logger.Info("feed connected",
		slog.String("url", f.cfg.URL),
		slog.Int("symbols", len(f.cfg.Symbols)))

	go f.pingLoop(ctx, conn)
	return nil
}

func (f *WSFeed) readLoop(ctx context.Context) {
	for {
		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				f.logger.Warn("feed read error", slog.Any("error", err))
			}
			f.closeConn()
			return
		}
		f.handleMessage(msg)
	}
}

func (f *WSFeed) handleMessage(msg []byte) {
	var t tick
	if err := json.Unmarshal(msg, &t); err != nil {
		f.logger.Debug("unparseable feed message", slog.Any("error", err))
		return
	}
	if t.Symbol == "" || t.LTP.Sign() <= 0 {
		return
	}
	if t.Exchange == "" {
		t.Exchange = "NSE"
	}

	f.mu.Lock()
	f.quotes[t.Symbol+":"+t.Exchange] = domain.Quote{
		LastTradedPrice: t.LTP,
		Timestamp:       f.clock.Now(),
	}
	notify := f.onTick
	f.mu.Unlock()

	// Invoked outside the lock: the callback may call back into GetQuote.
	if notify != nil {
		notify()
	}
}

func (f *WSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.connMu.Lock()
			current := f.conn
			f.connMu.Unlock()
			if current != conn {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				f.logger.Warn("feed ping failed", slog.Any("error", err))
				f.closeConn()
				return
			}
		}
	}
}

func (f *WSFeed) closeConn() {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}
