package hub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/manpreetbhatti/sketchroom/backend/internal/db"
	"github.com/manpreetbhatti/sketchroom/backend/internal/oplog"
	"github.com/manpreetbhatti/sketchroom/backend/internal/protocol"
	"github.com/manpreetbhatti/sketchroom/backend/internal/registry"
)

var (
	ErrInvalidOperation    = errors.New("invalid operation")
	ErrRoomNotFound        = errors.New("room not found")
	ErrNoSavedData         = errors.New("no saved data")
	ErrPersistenceDisabled = errors.New("persistence disabled")
)

// Peer is a connected participant the hub can deliver frames to. Send must
// not block; a false return means the frame was dropped.
type Peer interface {
	ID() string
	Send(frame []byte) bool
}

// Hub is the single authority over every room's operation log. Requests for
// one room run one at a time under that room's lock; different rooms only
// share the room map and the registry.
type Hub struct {
	rooms    map[string]*Room
	registry *registry.Registry
	store    db.Gateway
	now      func() time.Time
	mu       sync.RWMutex
}

// Room owns one operation log and the delivery peers of its members.
type Room struct {
	Key string

	log       *oplog.Log
	peers     map[string]Peer
	lastStamp int64
	version   uint64
	saved     uint64
	mu        sync.Mutex

	// saveMu orders saves of this room; it never guards the log itself
	saveMu sync.Mutex
}

// JoinResult is what a participant needs for its initial render
type JoinResult struct {
	History []oplog.Operation
	Members map[string]registry.Member
}

type RestoreResult struct {
	History []oplog.Operation
	// Applied is false when the room already had live history, which is
	// then kept in place of the stored one.
	Applied bool
}

// RoomInfo summarizes a room for the HTTP API.
type RoomInfo struct {
	Key        string                     `json:"key"`
	Operations int                        `json:"operations"`
	Members    map[string]registry.Member `json:"members"`
}

// NewHub creates a hub. store may be nil, in which case rooms start empty
// and Persist/Restore report ErrPersistenceDisabled.
func NewHub(store db.Gateway) *Hub {
	return &Hub{
		rooms:    make(map[string]*Room),
		registry: registry.New(),
		store:    store,
		now:      time.Now,
	}
}

func (h *Hub) getRoom(key string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.rooms[key]
	return room, ok
}

// createRoom returns the room for key and whether this call created it.
func (h *Hub) createRoom(key string) (*Room, bool) {
	if room, ok := h.getRoom(key); ok {
		return room, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[key]; ok {
		return room, false
	}
	room := &Room{
		Key:   key,
		log:   oplog.New(),
		peers: make(map[string]Peer),
	}
	h.rooms[key] = room
	h.registry.Ensure(key)
	log.Printf("Created room %s", key)
	return room, true
}

// EnsureRoom returns the room for key, creating it on first reference. The
// caller that creates the room also loads its stored history, outside the
// room lock, and installs it only if nothing was appended in the meantime.
// Operations that race ahead of that load win and the stored history is
// dropped. Members who joined while the load was running get a
// history_reload once it is installed.
func (h *Hub) EnsureRoom(ctx context.Context, key string) *Room {
	room, created := h.createRoom(key)
	if created {
		h.loadOnFirstTouch(ctx, room)
	}
	return room
}

func (h *Hub) loadOnFirstTouch(ctx context.Context, room *Room) {
	if h.store == nil {
		return
	}

	ops, err := h.store.Load(ctx, room.Key)
	if errors.Is(err, db.ErrNoSnapshot) {
		return
	}
	if err != nil {
		log.Printf("⚠️ Failed to load persisted history for room %s: %v", room.Key, err)
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.log.Len() > 0 {
		log.Printf("Room %s already has live history, ignoring persisted snapshot (%d ops)", room.Key, len(ops))
		return
	}
	history := room.installLocked(ops)
	if len(room.peers) > 0 {
		room.broadcastLocked(protocol.MessageHistoryReload, protocol.HistoryReload{History: history}, "")
	}
	log.Printf("💾 Loaded persisted history for room %s (%d ops)", room.Key, len(ops))
}

// Join registers a participant, sends it the room's state and tells every
// member (the joiner included) about the new membership.
func (h *Hub) Join(ctx context.Context, peer Peer, roomKey, name, color string) JoinResult {
	room := h.EnsureRoom(ctx, roomKey)

	room.mu.Lock()
	defer room.mu.Unlock()

	h.registry.AddMember(roomKey, registry.Member{ID: peer.ID(), Name: name, Color: color})
	room.peers[peer.ID()] = peer

	result := JoinResult{
		History: room.log.Snapshot(),
		Members: h.registry.ListMembers(roomKey),
	}

	room.sendLocked(peer, protocol.MessageStateInit, protocol.StateInit{
		History:   result.History,
		Members:   result.Members,
		SessionID: peer.ID(),
	})
	room.broadcastLocked(protocol.MessageMemberUpdate, result.Members, "")

	log.Printf("Client %s joined room %s (total: %d)", peer.ID(), roomKey, len(room.peers))
	return result
}

// Leave removes a participant's membership. The room and its log stay.
func (h *Hub) Leave(sessionID, roomKey string) {
	room, ok := h.getRoom(roomKey)
	if !ok {
		h.registry.RemoveMember(roomKey, sessionID)
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	delete(room.peers, sessionID)
	if !h.registry.RemoveMember(roomKey, sessionID) {
		return
	}
	room.broadcastLocked(protocol.MessageMemberUpdate, h.registry.ListMembers(roomKey), "")

	log.Printf("Client %s left room %s (remaining: %d)", sessionID, roomKey, len(room.peers))
}

// SubmitOperation stamps, appends and broadcasts op to every member of the
// room, the sender included. Invalid operations fail with
// ErrInvalidOperation and duplicates with oplog.ErrDuplicateOperation;
// neither is broadcast.
func (h *Hub) SubmitOperation(ctx context.Context, roomKey string, op oplog.Operation) error {
	if err := op.Validate(); err != nil {
		log.Printf("⚠️ Dropping invalid op %q in room %s: %v", op.ID, roomKey, err)
		return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}

	room := h.EnsureRoom(ctx, roomKey)

	room.mu.Lock()
	defer room.mu.Unlock()

	op.ServerTimestamp = room.stamp(h.now())
	op.Hidden = false
	if err := room.log.Append(op); err != nil {
		return err
	}
	room.version++

	room.broadcastLocked(protocol.MessageOpBroadcast, protocol.OpBroadcast{Op: op}, "")
	log.Printf("Received op %s type=%s from %s room=%s", op.ID, op.Type, op.AuthorID, roomKey)
	return nil
}

// RequestUndo hides the most recent visible drawing in the room, whoever
// drew it, and returns its id. Nothing eligible is not an error.
func (h *Hub) RequestUndo(ctx context.Context, roomKey, requesterID string) (string, bool) {
	room := h.EnsureRoom(ctx, roomKey)

	room.mu.Lock()
	defer room.mu.Unlock()

	target, ok := room.log.FindMostRecentVisibleUserOperation()
	if !ok {
		return "", false
	}
	room.log.SetHidden(target.ID, true)
	room.version++

	room.broadcastLocked(protocol.MessageUndoBroadcast, protocol.TargetBroadcast{TargetOperationID: target.ID}, "")
	log.Printf("Undo of %s requested by %s in room %s", target.ID, requesterID, roomKey)
	return target.ID, true
}

// RequestRedo makes the most recent hidden operation visible again.
func (h *Hub) RequestRedo(ctx context.Context, roomKey, requesterID string) (string, bool) {
	room := h.EnsureRoom(ctx, roomKey)

	room.mu.Lock()
	defer room.mu.Unlock()

	target, ok := room.log.FindMostRecentHiddenOperation()
	if !ok {
		return "", false
	}
	room.log.SetHidden(target.ID, false)
	room.version++

	room.broadcastLocked(protocol.MessageRedoBroadcast, protocol.TargetBroadcast{TargetOperationID: target.ID}, "")
	log.Printf("Redo of %s requested by %s in room %s", target.ID, requesterID, roomKey)
	return target.ID, true
}

// RelayCursor forwards a pointer position to the other members of the
// room. Positions are never recorded.
func (h *Hub) RelayCursor(roomKey, sessionID string, x, y float64) {
	room, ok := h.getRoom(roomKey)
	if !ok {
		return
	}
	member, ok := h.registry.Member(roomKey, sessionID)
	if !ok {
		member = registry.Member{ID: sessionID}
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	room.broadcastLocked(protocol.MessageCursor, protocol.CursorBroadcast{
		SessionID: sessionID,
		X:         x,
		Y:         y,
		Name:      member.Name,
		Color:     member.Color,
	}, sessionID)
}

// Persist saves the room's history and notifies its members.
func (h *Hub) Persist(ctx context.Context, roomKey string) error {
	return h.persist(ctx, roomKey, true)
}

// Checkpoint saves the room's history without notifying anyone.
func (h *Hub) Checkpoint(ctx context.Context, roomKey string) error {
	return h.persist(ctx, roomKey, false)
}

func (h *Hub) persist(ctx context.Context, roomKey string, notify bool) error {
	if h.store == nil {
		return ErrPersistenceDisabled
	}
	room, ok := h.getRoom(roomKey)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomKey)
	}

	// Saves of one room run one at a time, so an older snapshot can never
	// land after a newer one. Live ops only need room.mu and keep flowing.
	room.saveMu.Lock()
	defer room.saveMu.Unlock()

	room.mu.Lock()
	ops := room.log.Snapshot()
	version := room.version
	room.mu.Unlock()

	if err := h.store.Save(ctx, roomKey, ops); err != nil {
		return fmt.Errorf("save room %s: %w", roomKey, err)
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if version > room.saved {
		room.saved = version
	}
	if notify {
		room.broadcastLocked(protocol.MessageSaved, protocol.Saved{RoomKey: roomKey}, "")
	}

	log.Printf("💾 Saved history for room %s (%d ops)", roomKey, len(ops))
	return nil
}

// Restore loads the stored history of a room. It is installed only when the
// room's live log is empty; otherwise the live history is kept and
// returned. ErrNoSavedData means nothing was ever stored.
func (h *Hub) Restore(ctx context.Context, roomKey string) (RestoreResult, error) {
	if h.store == nil {
		return RestoreResult{}, ErrPersistenceDisabled
	}

	ops, err := h.store.Load(ctx, roomKey)
	if errors.Is(err, db.ErrNoSnapshot) {
		return RestoreResult{}, fmt.Errorf("%w: %s", ErrNoSavedData, roomKey)
	}
	if err != nil {
		return RestoreResult{}, fmt.Errorf("load room %s: %w", roomKey, err)
	}

	// The snapshot just read stands in for the first-touch load
	room, _ := h.createRoom(roomKey)

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.log.Len() > 0 {
		log.Printf("Room %s already has %d live ops, keeping them over the stored snapshot", roomKey, room.log.Len())
		return RestoreResult{History: room.log.Snapshot()}, nil
	}

	history := room.installLocked(ops)
	room.broadcastLocked(protocol.MessageHistoryReload, protocol.HistoryReload{History: history}, "")
	log.Printf("💾 Restored history for room %s (%d ops)", roomKey, len(history))
	return RestoreResult{History: history, Applied: true}, nil
}

// DirtyRooms lists rooms changed since they were last saved or loaded.
func (h *Hub) DirtyRooms() []string {
	h.mu.RLock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, room := range h.rooms {
		rooms = append(rooms, room)
	}
	h.mu.RUnlock()

	var dirty []string
	for _, room := range rooms {
		room.mu.Lock()
		if room.version != room.saved {
			dirty = append(dirty, room.Key)
		}
		room.mu.Unlock()
	}
	sort.Strings(dirty)
	return dirty
}

// Returns the number of rooms with at least one member
func (h *Hub) RoomCount() int {
	count := 0
	for _, n := range h.registry.Counts() {
		if n > 0 {
			count++
		}
	}
	return count
}

func (h *Hub) ClientCount() int {
	return h.registry.MemberCount()
}

// ActiveRooms maps each occupied room to its member count.
func (h *Hub) ActiveRooms() map[string]int {
	active := make(map[string]int)
	for key, n := range h.registry.Counts() {
		if n > 0 {
			active[key] = n
		}
	}
	return active
}

// Rooms describes every room known to this process, sorted by key.
func (h *Hub) Rooms() []RoomInfo {
	h.mu.RLock()
	keys := make([]string, 0, len(h.rooms))
	for key := range h.rooms {
		keys = append(keys, key)
	}
	h.mu.RUnlock()
	sort.Strings(keys)

	infos := make([]RoomInfo, 0, len(keys))
	for _, key := range keys {
		if info, ok := h.Room(key); ok {
			infos = append(infos, info)
		}
	}
	return infos
}

func (h *Hub) Room(key string) (RoomInfo, bool) {
	room, ok := h.getRoom(key)
	if !ok {
		return RoomInfo{}, false
	}
	return RoomInfo{
		Key:        key,
		Operations: room.log.Len(),
		Members:    h.registry.ListMembers(key),
	}, true
}

// History returns the room's current operations.
func (h *Hub) History(key string) ([]oplog.Operation, bool) {
	room, ok := h.getRoom(key)
	if !ok {
		return nil, false
	}
	return room.log.Snapshot(), true
}

// installLocked replaces the log with stored history, which counts as
// saved, and returns the new history. Later stamps continue after the
// newest stored one.
func (r *Room) installLocked(ops []oplog.Operation) []oplog.Operation {
	r.log.ReplaceAll(ops)
	r.version++
	r.saved = r.version
	for _, op := range ops {
		if op.ServerTimestamp > r.lastStamp {
			r.lastStamp = op.ServerTimestamp
		}
	}
	return r.log.Snapshot()
}

// stamp returns a server timestamp in milliseconds that is strictly
// increasing within the room.
func (r *Room) stamp(now time.Time) int64 {
	ts := now.UnixMilli()
	if ts <= r.lastStamp {
		ts = r.lastStamp + 1
	}
	r.lastStamp = ts
	return ts
}

func (r *Room) sendLocked(peer Peer, t protocol.MessageType, v any) {
	frame, err := protocol.Encode(t, v)
	if err != nil {
		log.Printf("⚠️ Failed to encode %s for room %s: %v", t, r.Key, err)
		return
	}
	if !peer.Send(frame) {
		log.Printf("⚠️ Dropped %s for client %s in room %s", t, peer.ID(), r.Key)
	}
}

// broadcastLocked encodes once and hands the frame to every peer except
// skip. Delivery is fire-and-forget.
func (r *Room) broadcastLocked(t protocol.MessageType, v any, skip string) {
	frame, err := protocol.Encode(t, v)
	if err != nil {
		log.Printf("⚠️ Failed to encode %s for room %s: %v", t, r.Key, err)
		return
	}
	for id, peer := range r.peers {
		if id == skip {
			continue
		}
		if !peer.Send(frame) {
			log.Printf("⚠️ Dropped %s for client %s in room %s", t, id, r.Key)
		}
	}
}
