package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/conduit-ai/conduit/internal/chat"
)

const (
	// writeWait is the timeout for writing a frame to a WebSocket.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong before dropping the peer.
	pongWait = 60 * time.Second

	// pingPeriod is how often ping frames go out; must be under pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxRequestSize bounds inbound request frames.
	maxRequestSize = 1 * 1024 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The session layer in front of this API handles origin policy.
		return true
	},
}

// handleWebSocket upgrades the connection and serves exchanges over it: each
// inbound JSON frame is a sendRequest, answered by the same event frames the
// SSE endpoint emits. The socket handles one exchange at a time. All outbound
// traffic, pings included, goes through a single writer goroutine; the conn
// allows only one concurrent writer.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	c := s.loadOwnedChat(w, r)
	if c == nil {
		return
	}
	_, tier := caller(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxRequestSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	send := make(chan any, 32)
	writerDone := make(chan struct{})
	go s.writePump(conn, send, writerDone)
	defer close(send)

	// enqueue hands a frame to the writer; false means the writer is gone.
	enqueue := func(v any) bool {
		select {
		case send <- v:
			return true
		case <-writerDone:
			return false
		}
	}

	for {
		var req sendRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Str("chat", c.ID).Msg("websocket closed")
			}
			return
		}
		if req.Prompt == "" {
			if !enqueue(map[string]string{"type": "error", "error": "prompt is required"}) {
				return
			}
			continue
		}

		events, err := s.manager.Send(ctx, c, req.Prompt, chat.SendOptions{
			Tier:        tier,
			ModelID:     req.Model,
			Provider:    req.Provider,
			Temperature: req.Temperature,
			Images:      req.Images,
		})
		if err != nil {
			if !enqueue(map[string]string{"type": "error", "error": err.Error()}) {
				return
			}
			continue
		}

		for ev := range events {
			if !enqueue(ev) {
				cancel() // writer gone, tear down the upstream call
				for range events {
				}
				return
			}
		}
	}
}

// writePump is the single writer for a connection. It drains the send channel
// and issues keepalive pings from the same goroutine, exiting on the first
// write failure or when the channel closes.
func (s *Server) writePump(conn *websocket.Conn, send <-chan any, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case v, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteJSON(v); err != nil {
				s.log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
