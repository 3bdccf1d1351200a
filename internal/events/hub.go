package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub fans events out to websocket subscribers. A subscriber watches either
// one call or, with an empty call ID, every call. Slow subscribers drop
// events instead of blocking the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan []byte
	nextID int
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[string]map[int]chan []byte),
		buffer: buffer,
	}
}

func (h *Hub) Publish(_ context.Context, evt Event) error {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	h.fanOutLocked(evt.CallID, raw)
	if evt.CallID != "" {
		h.fanOutLocked("", raw)
	}
	return nil
}

func (h *Hub) fanOutLocked(key string, raw []byte) {
	for _, ch := range h.subs[key] {
		select {
		case ch <- raw:
		default:
		}
	}
}

// Subscribe returns a channel of marshaled events plus an unsubscribe func.
func (h *Hub) Subscribe(callID string) (<-chan []byte, func()) {
	ch := make(chan []byte, h.buffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if _, ok := h.subs[callID]; !ok {
		h.subs[callID] = make(map[int]chan []byte)
	}
	h.subs[callID][id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subs[callID]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(h.subs, callID)
		}
	}
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 120 * time.Second
	wsPingPeriod   = 45 * time.Second
)

// ServeConn pumps events for callID to a websocket connection until the
// context ends, the connection breaks, or the subscription closes.
func (h *Hub) ServeConn(ctx context.Context, conn *websocket.Conn, callID string) error {
	ch, unsubscribe := h.Subscribe(callID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The feed is one-way, but the read side still has to run so close
	// frames and pongs are processed and a vanished peer tears the pump
	// down instead of leaking it.
	go func() {
		defer cancel()
		conn.SetReadLimit(64 << 10)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		}
	}()

	pinger := time.NewTicker(wsPingPeriod)
	defer pinger.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pinger.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return err
			}
		}
	}
}
