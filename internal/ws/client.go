package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/sketchroom/backend/internal/hub"
	"github.com/manpreetbhatti/sketchroom/backend/internal/oplog"
	"github.com/manpreetbhatti/sketchroom/backend/internal/protocol"
	"github.com/manpreetbhatti/sketchroom/backend/internal/ratelimit"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	sendBuffer     = 512

	// DefaultRoom is joined when the client names none
	DefaultRoom = "main"

	maxRateLimitWarnings = 1000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket session. It is the hub's Peer for that session.
type Client struct {
	hub         *hub.Hub
	conn        *websocket.Conn
	send        chan []byte
	sessionID   string
	roomKey     string
	limiters    *ratelimit.ClientLimiters
	rateLimiter *ratelimit.Limiter

	closed bool
	mu     sync.Mutex
}

func (c *Client) ID() string {
	return c.sessionID
}

// Send queues a frame without blocking. A client that cannot keep up has
// its send channel closed, which ends the connection.
func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		log.Printf("🚫 Disconnecting slow client %s in room %s", c.sessionID, c.roomKey)
		c.closed = true
		close(c.send)
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Handler returns the /ws endpoint for h. Each connection takes its inbound
// token bucket from limiters, keyed by session id.
func Handler(h *hub.Hub, limiters *ratelimit.ClientLimiters) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ServeWs(h, limiters, w, r)
	}
}

func ServeWs(h *hub.Hub, limiters *ratelimit.ClientLimiters, w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	roomKey := query.Get("room")
	if roomKey == "" {
		roomKey = DefaultRoom
	}
	name := query.Get("name")
	if name == "" {
		name = randomName()
	}
	color := query.Get("color")
	if color == "" {
		color = randomColor()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	sessionID := uuid.NewString()
	client := &Client{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		sessionID:   sessionID,
		roomKey:     roomKey,
		limiters:    limiters,
		rateLimiter: limiters.Get(sessionID),
	}

	// Join queues state_init before the pumps start, so it is the first frame
	h.Join(r.Context(), client, roomKey, name, color)

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Leave(c.sessionID, c.roomKey)
		c.limiters.Remove(c.sessionID)
		c.closeSend()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				log.Printf("⚠️ Rate limit exceeded for client %s in room %s (warning #%d)",
					c.sessionID, c.roomKey, rateLimitWarnings)
			}
			if rateLimitWarnings > maxRateLimitWarnings {
				log.Printf("🚫 Disconnecting client %s for excessive rate limit violations", c.sessionID)
				return
			}
			continue
		}

		if err := c.handleMessage(message); err != nil {
			log.Printf("⚠️ Invalid message from client %s: %v", c.sessionID, err)
		}
	}
}

// handleMessage dispatches one inbound frame. Errors are only logged; the
// connection stays open.
func (c *Client) handleMessage(message []byte) error {
	env, err := protocol.Decode(message)
	if err != nil {
		return err
	}
	ctx := context.Background()

	switch env.Type {
	case protocol.MessageOp:
		var req protocol.OpRequest
		if err := protocol.DecodeData(env, &req); err != nil {
			return err
		}
		err := c.hub.SubmitOperation(ctx, protocol.Room(req.RoomKey, req.RoomID, c.roomKey), req.Op)
		if errors.Is(err, oplog.ErrDuplicateOperation) {
			return nil
		}
		return err

	case protocol.MessageUndoRequest, protocol.MessageRedoRequest:
		var req protocol.HistoryRequest
		if len(env.Data) > 0 {
			if err := protocol.DecodeData(env, &req); err != nil {
				return err
			}
		}
		if req.RequesterID == "" {
			req.RequesterID = c.sessionID
		}
		roomKey := protocol.Room(req.RoomKey, req.RoomID, c.roomKey)
		if env.Type == protocol.MessageUndoRequest {
			c.hub.RequestUndo(ctx, roomKey, req.RequesterID)
		} else {
			c.hub.RequestRedo(ctx, roomKey, req.RequesterID)
		}
		return nil

	case protocol.MessageCursor:
		var req protocol.CursorRequest
		if err := protocol.DecodeData(env, &req); err != nil {
			return err
		}
		c.hub.RelayCursor(protocol.Room(req.RoomKey, req.RoomID, c.roomKey), c.sessionID, req.X, req.Y)
		return nil

	case protocol.MessagePing:
		var ping protocol.Ping
		if len(env.Data) > 0 {
			if err := protocol.DecodeData(env, &ping); err != nil {
				return err
			}
		}
		frame, err := protocol.Encode(protocol.MessagePong, ping)
		if err != nil {
			return err
		}
		c.Send(frame)
		return nil

	default:
		return fmt.Errorf("unknown message type: %s", env.Type)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func randomName() string {
	return fmt.Sprintf("User_%04d", rand.Intn(10000))
}

func randomColor() string {
	return fmt.Sprintf("hsl(%d, 70%%, 50%%)", rand.Intn(360))
}
