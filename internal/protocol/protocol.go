package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/manpreetbhatti/sketchroom/backend/internal/oplog"
	"github.com/manpreetbhatti/sketchroom/backend/internal/registry"
)

// Names the message carried by an Envelope
type MessageType string

const (
	// Client to server
	MessageOp          MessageType = "op"
	MessageUndoRequest MessageType = "undo_request"
	MessageRedoRequest MessageType = "redo_request"
	MessageCursor      MessageType = "cursor"
	MessagePing        MessageType = "ping_ts"

	// Server to client
	MessageStateInit     MessageType = "state_init"
	MessageOpBroadcast   MessageType = "op_broadcast"
	MessageUndoBroadcast MessageType = "undo_broadcast"
	MessageRedoBroadcast MessageType = "redo_broadcast"
	MessageMemberUpdate  MessageType = "member_update"
	MessagePong          MessageType = "pong_ts"
	MessageSaved         MessageType = "saved_session"
	MessageHistoryReload MessageType = "history_reload"
)

// Envelope is the frame format on the wire: {"type": ..., "data": ...}.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type OpRequest struct {
	RoomKey string          `json:"roomKey"`
	RoomID  string          `json:"roomId,omitempty"`
	Op      oplog.Operation `json:"op"`
}

// HistoryRequest is the body of both undo_request and redo_request.
type HistoryRequest struct {
	RoomKey     string `json:"roomKey"`
	RoomID      string `json:"roomId,omitempty"`
	RequesterID string `json:"requesterId"`
}

type CursorRequest struct {
	RoomKey string  `json:"roomKey"`
	RoomID  string  `json:"roomId,omitempty"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

type Ping struct {
	T int64 `json:"t"`
}

type StateInit struct {
	History   []oplog.Operation          `json:"history"`
	Members   map[string]registry.Member `json:"members"`
	SessionID string                     `json:"sessionId"`
}

type OpBroadcast struct {
	Op oplog.Operation `json:"op"`
}

// TargetBroadcast announces an undo or redo of one operation.
type TargetBroadcast struct {
	TargetOperationID string `json:"targetOperationId"`
}

type CursorBroadcast struct {
	SessionID string  `json:"sessionId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Name      string  `json:"name"`
	Color     string  `json:"color"`
}

type Saved struct {
	RoomKey string `json:"roomKey"`
}

type HistoryReload struct {
	History []oplog.Operation `json:"history"`
}

// Room returns the room a request addresses, preferring roomKey over the
// legacy roomId field and falling back to def.
func Room(roomKey, roomID, def string) string {
	if roomKey != "" {
		return roomKey
	}
	if roomID != "" {
		return roomID
	}
	return def
}

// Encode wraps v in an Envelope of the given type.
func Encode(t MessageType, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Data: data})
}

// Decode parses a frame into its Envelope. The data stays raw until the
// caller picks the matching body type.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if len(frame) == 0 {
		return env, fmt.Errorf("empty message")
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("message type is required")
	}
	return env, nil
}

// DecodeData unmarshals the envelope body into v.
func DecodeData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: missing data", env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%s: %w", env.Type, err)
	}
	return nil
}
