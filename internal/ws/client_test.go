package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/sketchroom/backend/internal/hub"
	"github.com/manpreetbhatti/sketchroom/backend/internal/oplog"
	"github.com/manpreetbhatti/sketchroom/backend/internal/protocol"
	"github.com/manpreetbhatti/sketchroom/backend/internal/ratelimit"
)

func setupTestServerWithLimiters(t *testing.T) (*hub.Hub, *ratelimit.ClientLimiters, string) {
	t.Helper()

	h := hub.NewHub(nil)
	limiters := ratelimit.NewClientLimiters(100, 200)
	server := httptest.NewServer(Handler(h, limiters))
	t.Cleanup(func() {
		server.Close()
		limiters.Stop()
	})

	return h, limiters, "ws" + strings.TrimPrefix(server.URL, "http")
}

func setupTestServer(t *testing.T) (*hub.Hub, string) {
	t.Helper()

	h, _, url := setupTestServerWithLimiters(t)
	return h, url
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, mt protocol.MessageType, v any) {
	t.Helper()

	frame, err := protocol.Encode(mt, v)
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
}

// expect reads frames until one of type mt arrives.
func expect(t *testing.T, conn *websocket.Conn, mt protocol.MessageType) protocol.Envelope {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Failed waiting for %s: %v", mt, err)
		}
		if kind != websocket.TextMessage {
			t.Fatalf("Expected text frame, got %d", kind)
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("Failed to decode frame: %v", err)
		}
		if env.Type == mt {
			return env
		}
	}
}

func TestConnectReceivesStateInitFirst(t *testing.T) {
	_, url := setupTestServer(t)
	conn := dial(t, url+"/ws?room=studio&name=Ada&color=%23123456")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	env, err := protocol.Decode(frame)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if env.Type != protocol.MessageStateInit {
		t.Fatalf("Expected state_init first, got %s", env.Type)
	}

	var init protocol.StateInit
	if err := protocol.DecodeData(env, &init); err != nil {
		t.Fatalf("Failed to decode state_init: %v", err)
	}
	if init.SessionID == "" {
		t.Error("Expected a session id")
	}
	member, ok := init.Members[init.SessionID]
	if !ok || member.Name != "Ada" || member.Color != "#123456" {
		t.Errorf("Unexpected member entry: %+v", init.Members)
	}
	if init.History == nil {
		t.Error("Expected an empty, non-null history")
	}
}

func TestDefaultsForMissingQuery(t *testing.T) {
	h, url := setupTestServer(t)
	conn := dial(t, url+"/ws")

	var init protocol.StateInit
	if err := protocol.DecodeData(expect(t, conn, protocol.MessageStateInit), &init); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	member := init.Members[init.SessionID]
	if !strings.HasPrefix(member.Name, "User_") {
		t.Errorf("Expected generated name, got %q", member.Name)
	}
	if !strings.HasPrefix(member.Color, "hsl(") {
		t.Errorf("Expected generated colour, got %q", member.Color)
	}
	if _, ok := h.Room(DefaultRoom); !ok {
		t.Errorf("Expected client to join %s", DefaultRoom)
	}
}

func TestOperationRoundTrip(t *testing.T) {
	_, url := setupTestServer(t)
	alice := dial(t, url+"/ws?room=r1&name=Alice")
	expect(t, alice, protocol.MessageStateInit)
	bob := dial(t, url+"/ws?room=r1&name=Bob")
	expect(t, bob, protocol.MessageStateInit)

	op := oplog.Operation{
		ID:       "op-1",
		Type:     oplog.TypeText,
		AuthorID: "alice",
		Payload:  oplog.TextPayload{X: 1, Y: 2, Text: "hi", Color: "#000", Size: 14},
	}
	send(t, alice, protocol.MessageOp, protocol.OpRequest{Op: op})

	for _, conn := range []*websocket.Conn{alice, bob} {
		var body protocol.OpBroadcast
		if err := protocol.DecodeData(expect(t, conn, protocol.MessageOpBroadcast), &body); err != nil {
			t.Fatalf("Failed to decode: %v", err)
		}
		if body.Op.ID != "op-1" || body.Op.ServerTimestamp == 0 {
			t.Errorf("Unexpected op: %+v", body.Op)
		}
		if text, ok := body.Op.Payload.(oplog.TextPayload); !ok || text.Text != "hi" {
			t.Errorf("Unexpected payload: %#v", body.Op.Payload)
		}
	}

	send(t, bob, protocol.MessageUndoRequest, protocol.HistoryRequest{RoomKey: "r1"})
	var target protocol.TargetBroadcast
	if err := protocol.DecodeData(expect(t, alice, protocol.MessageUndoBroadcast), &target); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if target.TargetOperationID != "op-1" {
		t.Errorf("Expected undo of op-1, got %s", target.TargetOperationID)
	}

	send(t, alice, protocol.MessageRedoRequest, nil)
	if err := protocol.DecodeData(expect(t, bob, protocol.MessageRedoBroadcast), &target); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if target.TargetOperationID != "op-1" {
		t.Errorf("Expected redo of op-1, got %s", target.TargetOperationID)
	}
}

func TestPingPong(t *testing.T) {
	_, url := setupTestServer(t)
	conn := dial(t, url+"/ws")
	expect(t, conn, protocol.MessageStateInit)

	send(t, conn, protocol.MessagePing, protocol.Ping{T: 1234})

	var pong protocol.Ping
	if err := protocol.DecodeData(expect(t, conn, protocol.MessagePong), &pong); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if pong.T != 1234 {
		t.Errorf("Expected echoed t=1234, got %d", pong.T)
	}
}

func TestMalformedFramesKeepConnection(t *testing.T) {
	_, url := setupTestServer(t)
	conn := dial(t, url+"/ws")
	expect(t, conn, protocol.MessageStateInit)

	for _, frame := range []string{`not json`, `{"type":""}`, `{"type":"teleport","data":{}}`, `{"type":"op","data":{"op":{"id":"x","type":"blob"}}}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
	}

	send(t, conn, protocol.MessagePing, protocol.Ping{T: 7})
	expect(t, conn, protocol.MessagePong)
}

func TestCursorRelayAndLeave(t *testing.T) {
	h, url := setupTestServer(t)
	alice := dial(t, url+"/ws?room=c&name=Alice")
	expect(t, alice, protocol.MessageStateInit)
	bob := dial(t, url+"/ws?room=c&name=Bob")
	expect(t, bob, protocol.MessageStateInit)

	send(t, bob, protocol.MessageCursor, protocol.CursorRequest{X: 3, Y: 4})

	var cursor protocol.CursorBroadcast
	if err := protocol.DecodeData(expect(t, alice, protocol.MessageCursor), &cursor); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if cursor.Name != "Bob" || cursor.X != 3 || cursor.Y != 4 {
		t.Errorf("Unexpected cursor: %+v", cursor)
	}

	bob.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var members map[string]json.RawMessage
		env := expect(t, alice, protocol.MessageMemberUpdate)
		if err := protocol.DecodeData(env, &members); err != nil {
			t.Fatalf("Failed to decode: %v", err)
		}
		if len(members) == 1 {
			if h.ClientCount() != 1 {
				t.Errorf("Expected 1 client after leave, got %d", h.ClientCount())
			}
			return
		}
	}
	t.Error("Expected a member_update without Bob")
}

func TestSlowClientSendIsNonBlocking(t *testing.T) {
	c := &Client{send: make(chan []byte, 1), sessionID: "slow", roomKey: "main"}

	if !c.Send([]byte("a")) {
		t.Fatal("Expected first frame to queue")
	}
	if c.Send([]byte("b")) {
		t.Error("Expected full buffer to refuse the frame")
	}
	if c.Send([]byte("c")) {
		t.Error("Expected closed client to refuse frames")
	}

	// Closing again must not panic
	c.closeSend()
}

func TestDisconnectDropsRateLimiter(t *testing.T) {
	_, limiters, url := setupTestServerWithLimiters(t)
	conn := dial(t, url+"/ws")

	var init protocol.StateInit
	if err := protocol.DecodeData(expect(t, conn, protocol.MessageStateInit), &init); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	connected := limiters.Get(init.SessionID)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if limiters.Get(init.SessionID) != connected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("Expected the session's limiter to be dropped after disconnect")
}

func TestMalformedCoordinatesStillBroadcast(t *testing.T) {
	h, url := setupTestServer(t)
	alice := dial(t, url+"/ws?room=odd")
	expect(t, alice, protocol.MessageStateInit)
	bob := dial(t, url+"/ws?room=odd")
	expect(t, bob, protocol.MessageStateInit)

	frame := `{"type":"op","data":{"op":{"id":"o1","type":"stroke","authorId":"u1","payload":{"points":[{"x":"abc","y":1}],"color":"#000","width":"thick"}}}}`
	if err := alice.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	var body protocol.OpBroadcast
	if err := protocol.DecodeData(expect(t, bob, protocol.MessageOpBroadcast), &body); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	raw, ok := body.Op.Payload.(oplog.RawPayload)
	if !ok {
		t.Fatalf("Expected the payload kept as sent, got %T", body.Op.Payload)
	}
	if !strings.Contains(string(raw), `"x":"abc"`) {
		t.Errorf("Expected original coordinates, got %s", raw)
	}
	if history, _ := h.History("odd"); len(history) != 1 {
		t.Errorf("Expected the op in the log, got %d ops", len(history))
	}
}
