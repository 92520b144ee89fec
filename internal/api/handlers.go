package api

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/manpreetbhatti/sketchroom/backend/internal/db"
	"github.com/manpreetbhatti/sketchroom/backend/internal/hub"
	"github.com/manpreetbhatti/sketchroom/backend/internal/oplog"
	"github.com/manpreetbhatti/sketchroom/backend/internal/ratelimit"
)

const defaultRoom = "main"

type API struct {
	hub      *hub.Hub
	store    db.Gateway
	limiters *ratelimit.ClientLimiters
}

// New builds the HTTP API. store may be nil when persistence is disabled;
// limiters may be nil to disable per-address limits on /save and /load.
func New(h *hub.Hub, store db.Gateway, limiters *ratelimit.ClientLimiters) *API {
	return &API{
		hub:      h,
		store:    store,
		limiters: limiters,
	}
}

// Router registers every HTTP route except the websocket endpoint.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	a.Register(r)
	return r
}

func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/health", a.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/save", a.rateLimited(a.SaveHandler)).Methods(http.MethodPost)
	r.HandleFunc("/load", a.rateLimited(a.LoadHandler)).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", a.StatsHandler).Methods(http.MethodGet)
	api.HandleFunc("/rooms", a.ListRoomsHandler).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{key}", a.GetRoomHandler).Methods(http.MethodGet)
	api.HandleFunc("/saved", a.ListSavedHandler).Methods(http.MethodGet)
	api.HandleFunc("/saved/{key}", a.DeleteSavedHandler).Methods(http.MethodDelete)
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// failResponse is the {ok:false} shape used by /save and /load.
func failResponse(w http.ResponseWriter, status int, message string, extra map[string]interface{}) {
	body := map[string]interface{}{"ok": false, "error": message}
	for k, v := range extra {
		body[k] = v
	}
	jsonResponse(w, status, body)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (a *API) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.limiters != nil && !a.limiters.Allow(remoteHost(r)) {
			log.Printf("⚠️ Rate limit exceeded for %s on %s", remoteHost(r), r.URL.Path)
			failResponse(w, http.StatusTooManyRequests, "rate limit exceeded", nil)
			return
		}
		next(w, r)
	}
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.RoomCount(),
		"active_clients": a.hub.ClientCount(),
		"members":        a.hub.ActiveRooms(),
		"known_rooms":    len(a.hub.Rooms()),
		"persistence":    a.store != nil,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if sp, ok := a.store.(db.StatsProvider); ok {
		dbStats, err := sp.Stats(r.Context())
		if err == nil {
			stats["saved_rooms"] = dbStats["saved_rooms"]
			stats["saved_operations"] = dbStats["saved_operations"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Save handlers

type SaveRequest struct {
	RoomKey string `json:"roomKey"`
	RoomID  string `json:"roomId,omitempty"`
}

func (a *API) SaveHandler(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		failResponse(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	roomKey := req.RoomKey
	if roomKey == "" {
		roomKey = req.RoomID
	}
	if roomKey == "" {
		failResponse(w, http.StatusBadRequest, "roomKey is required", nil)
		return
	}

	err := a.hub.Persist(r.Context(), roomKey)
	switch {
	case err == nil:
		jsonResponse(w, http.StatusOK, map[string]interface{}{"ok": true})
	case errors.Is(err, hub.ErrRoomNotFound):
		failResponse(w, http.StatusNotFound, "Room not found", nil)
	case errors.Is(err, hub.ErrPersistenceDisabled):
		failResponse(w, http.StatusServiceUnavailable, "Persistence disabled", nil)
	default:
		log.Printf("Save failed for room %s: %v", roomKey, err)
		failResponse(w, http.StatusInternalServerError, err.Error(), nil)
	}
}

func (a *API) LoadHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	roomKey := query.Get("roomKey")
	if roomKey == "" {
		roomKey = query.Get("roomId")
	}
	if roomKey == "" {
		roomKey = defaultRoom
	}

	empty := map[string]interface{}{"history": []oplog.Operation{}}

	result, err := a.hub.Restore(r.Context(), roomKey)
	switch {
	case err == nil:
		jsonResponse(w, http.StatusOK, map[string]interface{}{
			"ok":      true,
			"history": result.History,
			"applied": result.Applied,
		})
	case errors.Is(err, hub.ErrNoSavedData):
		failResponse(w, http.StatusNotFound, "no saved session", empty)
	case errors.Is(err, hub.ErrPersistenceDisabled):
		failResponse(w, http.StatusServiceUnavailable, "Persistence disabled", empty)
	default:
		log.Printf("Load failed for room %s: %v", roomKey, err)
		failResponse(w, http.StatusInternalServerError, err.Error(), empty)
	}
}

// Room handlers

type RoomResponse struct {
	Key         string `json:"key"`
	Operations  int    `json:"operations"`
	ActiveUsers int    `json:"active_users"`
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms := a.hub.Rooms()

	response := make([]RoomResponse, len(rooms))
	for i, room := range rooms {
		response[i] = RoomResponse{
			Key:         room.Key,
			Operations:  room.Operations,
			ActiveUsers: len(room.Members),
		}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms": response,
	})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	room, ok := a.hub.Room(key)
	if !ok {
		errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	jsonResponse(w, http.StatusOK, room)
}

// Saved-room catalog handlers

func (a *API) catalog(w http.ResponseWriter) (db.Catalog, bool) {
	catalog, ok := a.store.(db.Catalog)
	if !ok {
		errorResponse(w, http.StatusNotImplemented, "Store does not support listing")
		return nil, false
	}
	return catalog, true
}

func (a *API) ListSavedHandler(w http.ResponseWriter, r *http.Request) {
	catalog, ok := a.catalog(w)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	saved, err := catalog.ListSaved(r.Context(), limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list saved rooms")
		return
	}
	if saved == nil {
		saved = []db.SavedRoom{}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"saved":  saved,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) DeleteSavedHandler(w http.ResponseWriter, r *http.Request) {
	catalog, ok := a.catalog(w)
	if !ok {
		return
	}

	key := mux.Vars(r)["key"]
	if err := catalog.DeleteSaved(r.Context(), key); err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete saved room")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Saved room deleted"})
}
