package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/skobkin/freqpilot/internal/api"
)

const (
	wsSendQueueSize = 16
	wsWriteTimeout  = 3 * time.Second
)

// wsClient is one status subscriber. The handler goroutine owns the queue;
// a separate writer goroutine drains it onto the connection.
type wsClient struct {
	conn   *websocket.Conn
	queue  *wsOutbound
	logger *slog.Logger
	sent   *atomic.Uint64
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	reqLogger := s.loggerFromContext(r.Context())

	release, ok := s.acquireWSSlot()
	if !ok {
		reqLogger.Warn("websocket rejected", "reason", "capacity")
		http.Error(w, "websocket capacity reached", http.StatusServiceUnavailable)
		return
	}
	defer release()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.HTTP.AllowedOrigins,
	})
	if err != nil {
		reqLogger.Warn("websocket accept failed", "err", err)
		return
	}
	defer func() {
		if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
			reqLogger.Debug("websocket close failed", "err", err)
		}
	}()

	s.wsTotal.Add(1)
	client := &wsClient{
		conn:   conn,
		queue:  newWSOutbound(wsSendQueueSize, &s.wsDropped),
		logger: reqLogger.With("ws_id", s.wsConnIDs.Add(1)),
		sent:   &s.wsSent,
	}

	ctx, cancel := context.WithCancel(r.Context())
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		client.writeLoop(ctx, cancel)
	}()

	updates, unsubscribe := s.board.Subscribe()
	defer func() {
		unsubscribe()
		// Queued messages are flushed before the context is cancelled.
		client.queue.close()
		<-writerDone
		cancel()
	}()

	if !client.send(s.helloMessage()) {
		return
	}

	inbound := make(chan []byte, 8)
	readErr := make(chan error, 1)
	go client.readLoop(ctx, inbound, readErr)

	lastState := ""
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				// Board closed: the run is over.
				client.send(api.EndMessage{Type: "end", State: lastState})
				return
			}
			lastState = snap.State
			if !client.send(api.NewStatusMessage(snap)) {
				return
			}
		case data, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			if !client.reply(data) {
				return
			}
		case err := <-readErr:
			if !isPeerClose(err) {
				client.logger.Warn("websocket read error", "err", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) helloMessage() api.HelloMessage {
	return api.NewHelloMessage(
		s.cfg.Actuator.Name,
		s.cfg.Control.ThresholdMS,
		s.cfg.Control.WindowDuration.Seconds(),
		map[string]bool{
			"metrics": s.cfg.HTTP.EnablePrometheus,
			"history": s.cfg.Output.HistoryDB != "",
			"geotag":  s.cfg.Output.GeotagFeedPath != "",
		},
	)
}

func isPeerClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

// readLoop forwards text frames until the peer goes away or ctx ends.
func (c *wsClient) readLoop(ctx context.Context, out chan<- []byte, errCh chan<- error) {
	defer close(out)
	for {
		kind, data, err := c.conn.Read(ctx)
		if err != nil {
			errCh <- err
			return
		}
		if kind != websocket.MessageText {
			continue
		}
		select {
		case out <- data:
		case <-ctx.Done():
			return
		}
	}
}

// reply answers a client request. Unknown types are ignored.
func (c *wsClient) reply(data []byte) bool {
	var req api.ClientMessage
	if err := json.Unmarshal(data, &req); err != nil {
		c.logger.Debug("invalid client message", "err", err)
		return c.send(api.ErrorMessage{Type: "error", Message: "invalid message"})
	}
	if req.Type == "ping" {
		return c.send(api.PongMessage{Type: "pong"})
	}
	c.logger.Debug("unknown message type", "type", req.Type)
	return true
}

func (c *wsClient) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	for {
		var msg []byte
		select {
		case <-ctx.Done():
			return
		case m, ok := <-c.queue.channel():
			if !ok {
				return
			}
			msg = m
		}

		writeCtx, writeCancel := context.WithTimeout(ctx, wsWriteTimeout)
		err := c.conn.Write(writeCtx, websocket.MessageText, msg)
		writeCancel()
		if err != nil {
			if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				c.logger.Warn("websocket write failed", "err", err)
			}
			cancel()
			return
		}
		c.sent.Add(1)
	}
}

func (c *wsClient) send(payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("failed to marshal websocket payload", "err", err)
		return false
	}
	if !c.queue.enqueue(data) {
		c.logger.Debug("websocket outbound queue closed")
		return false
	}
	return true
}

// acquireWSSlot reserves one client slot. The returned func gives it back.
func (s *Server) acquireWSSlot() (func(), bool) {
	release := func() { s.wsActive.Add(-1) }
	for {
		current := s.wsActive.Load()
		if s.maxWSClients > 0 && current >= s.maxWSClients {
			s.wsRejected.Add(1)
			return nil, false
		}
		if s.wsActive.CompareAndSwap(current, current+1) {
			return release, true
		}
	}
}

// wsOutbound is a bounded send queue that drops the oldest message when full.
type wsOutbound struct {
	ch     chan []byte
	closed atomic.Bool
	drops  *atomic.Uint64
}

func newWSOutbound(size int, drops *atomic.Uint64) *wsOutbound {
	return &wsOutbound{ch: make(chan []byte, max(size, 1)), drops: drops}
}

func (o *wsOutbound) enqueue(msg []byte) bool {
	if o.closed.Load() {
		return false
	}
	for range 2 {
		select {
		case o.ch <- msg:
			return true
		default:
		}
		select {
		case <-o.ch:
			o.drops.Add(1)
		default:
		}
	}
	o.drops.Add(1)
	return false
}

func (o *wsOutbound) close() {
	if o.closed.CompareAndSwap(false, true) {
		close(o.ch)
	}
}

func (o *wsOutbound) channel() <-chan []byte {
	return o.ch
}
