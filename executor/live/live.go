// Package live streams self-play games over WebSocket as they are played.
//
// Every message is an Event envelope. A game produces one "game_start", a
// "move" per ply and a final "game_end".
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/brensch/sigmazero/executor/mcts"
	"github.com/brensch/sigmazero/executor/selfplay"
	"github.com/brensch/sigmazero/game"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event types.
const (
	TypeGameStart = "game_start"
	TypeMove      = "move"
	TypeGameEnd   = "game_end"
)

// Event is the envelope written to subscribers.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type GameStart struct {
	GameID string `json:"game_id"`
}

// MoveFrame is one played move with the search that chose it.
type MoveFrame struct {
	GameID   string              `json:"game_id"`
	Ply      int                 `json:"ply"`
	Move     int                 `json:"move"`
	X        int                 `json:"x"`
	Y        int                 `json:"y"`
	Cells    []byte              `json:"cells"`
	LastMove int                 `json:"last_move"`
	Status   string              `json:"status"`
	Board    string              `json:"board"`
	Policy   []float32           `json:"policy"`
	Children []mcts.ChildSummary `json:"children"`
	MaxDepth int                 `json:"max_depth"`
	Nodes    int                 `json:"nodes"`
}

type GameEnd struct {
	GameID string `json:"game_id"`
	Plies  int    `json:"plies"`
	Result string `json:"result"`
}

// Config holds hub and follower timeouts.
type Config struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	// SendBuffer is the number of queued messages per subscriber before it is
	// dropped as too slow.
	SendBuffer int
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:   5 * time.Second,
		PingInterval:   30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    90 * time.Second,
		SendBuffer:     256,
	}
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to every connected subscriber. It implements
// http.Handler; each request is upgraded to a WebSocket subscription.
type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

func NewHub(cfg Config) *Hub {
	def := DefaultConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &Hub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("live: upgrade failed")
		return
	}
	sub := &subscriber{conn: conn, send: make(chan []byte, h.cfg.SendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	log.Debug().Str("remote", r.RemoteAddr).Msg("live: subscriber connected")

	go h.writeLoop(sub)
	h.readLoop(sub)
}

// readLoop discards client messages and notices disconnects.
func (h *Hub) readLoop(sub *subscriber) {
	defer h.remove(sub)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	var ping <-chan time.Time
	if h.cfg.PingInterval > 0 {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer sub.conn.Close()

	for {
		select {
		case msg, ok := <-sub.send:
			if !ok {
				_ = sub.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
				_ = sub.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = sub.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(sub)
				return
			}
		case <-ping:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(sub)
				return
			}
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.send)
	}
}

// Publish sends an event to every subscriber. Subscribers whose queue is full
// are disconnected.
func (h *Hub) Publish(eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	msg, err := json.Marshal(Event{Type: eventType, Data: raw})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.send <- msg:
		default:
			log.Debug().Msg("live: dropping slow subscriber")
			delete(h.subs, sub)
			close(sub.send)
		}
	}
	return nil
}

// PublishStep publishes a played move, preceded by game_start on the first ply.
func (h *Hub) PublishStep(info selfplay.StepInfo) error {
	gameID := info.GameID.String()
	if info.Ply == 0 {
		if err := h.Publish(TypeGameStart, GameStart{GameID: gameID}); err != nil {
			return err
		}
	}
	cells, last := info.After.Cells()
	pos := game.PositionFromIndex(info.Move)
	return h.Publish(TypeMove, MoveFrame{
		GameID:   gameID,
		Ply:      info.Ply,
		Move:     info.Move,
		X:        int(pos.X),
		Y:        int(pos.Y),
		Cells:    cells,
		LastMove: last,
		Status:   info.After.Status().String(),
		Board:    info.After.Board().String(),
		Policy:   info.Policy,
		Children: info.Children,
		MaxDepth: info.MaxDepth,
		Nodes:    info.Nodes,
	})
}

func (h *Hub) PublishGame(rec *selfplay.GameRecord) error {
	return h.Publish(TypeGameEnd, GameEnd{
		GameID: rec.GameID.String(),
		Plies:  rec.Plies(),
		Result: rec.Result.String(),
	})
}

// Close disconnects every subscriber. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.send)
	}
}

// Follow connects to a hub at url and calls fn for every event until the
// connection closes, ctx is cancelled or fn returns an error.
func Follow(ctx context.Context, url string, cfg Config, fn func(Event) error) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.ConnectTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		if cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read error: %w", err)
		}

		var event Event
		if err := json.Unmarshal(message, &event); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(event); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}

// ErrStop ends Follow without error when returned from its callback.
var ErrStop = errors.New("stop following")
