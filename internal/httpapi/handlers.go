package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"log/slog"

	"chatrelay/internal/relay"
	"chatrelay/internal/store"
	"chatrelay/pkg/devicetoken"
)

// API carries the CRUD surface the relay core treats as a collaborator:
// user registration and room create/list/delete.
type API struct {
	DB     *store.Postgres
	Coord  *relay.Coordinator
	Tokens *devicetoken.Codec
	Log    *slog.Logger
}

type registerUserReq struct {
	Nickname string `json:"nickname"`
	DeviceID string `json:"deviceId"`
}
type registerUserResp struct {
	UserID        string `json:"userId"`
	Nickname      string `json:"nickname"`
	ActiveRoomPIN string `json:"activeRoomPin,omitempty"`
	DeviceToken   string `json:"deviceToken"`
}

type createRoomReq struct {
	MaxUsers  int    `json:"maxUsers"`
	CreatorID string `json:"creatorId"`
}
type roomResp struct {
	PIN       string    `json:"pin"`
	MaxUsers  int       `json:"maxUsers"`
	CreatedAt time.Time `json:"createdAt"`
}

// RegisterUser creates (or reclaims) a nickname for a device and hands
// back a signed device token for socket joins.
func (a *API) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Nickname == "" || req.DeviceID == "" {
		http.Error(w, "nickname and deviceId required", http.StatusBadRequest)
		return
	}

	u, activePIN, err := a.DB.RegisterUser(r.Context(), req.Nickname, req.DeviceID)
	if err != nil {
		http.Error(w, "could not register", http.StatusInternalServerError)
		return
	}

	tok, _ := a.Tokens.Sign(u.DeviceID, 24*time.Hour)
	writeJSON(w, registerUserResp{
		UserID:        u.ID,
		Nickname:      u.Nickname,
		ActiveRoomPIN: activePIN,
		DeviceToken:   tok,
	})
}

// CreateRoom makes a PIN-protected room for a creator
func (a *API) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CreatorID == "" {
		http.Error(w, "maxUsers and creatorId required", http.StatusBadRequest)
		return
	}

	room, err := a.DB.CreateRoom(r.Context(), req.MaxUsers, req.CreatorID)
	if err != nil {
		if errors.Is(err, store.ErrBadCapacity) || errors.Is(err, store.ErrOwnerRoomLimit) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "could not create room", http.StatusInternalServerError)
		return
	}
	writeJSON(w, roomResp{PIN: room.PIN, MaxUsers: room.MaxUsers, CreatedAt: room.CreatedAt})
}

// ListRooms returns the rooms a creator currently owns
func (a *API) ListRooms(w http.ResponseWriter, r *http.Request) {
	creator := r.URL.Query().Get("creator")
	if creator == "" {
		http.Error(w, "creator required", http.StatusBadRequest)
		return
	}

	rooms, err := a.DB.RoomsByCreator(r.Context(), creator)
	if err != nil {
		http.Error(w, "could not list rooms", http.StatusInternalServerError)
		return
	}
	resp := make([]roomResp, 0, len(rooms))
	for _, rm := range rooms {
		resp = append(resp, roomResp{PIN: rm.PIN, MaxUsers: rm.MaxUsers, CreatedAt: rm.CreatedAt})
	}
	writeJSON(w, resp)
}

// DeleteRoom removes a room on the creator's request. The coordinator
// does the work so connected members are notified and unjoined, not just
// orphaned by a cascade.
func (a *API) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	pin := r.PathValue("pin")
	creator := r.URL.Query().Get("creator")
	if pin == "" || creator == "" {
		http.Error(w, "pin and creator required", http.StatusBadRequest)
		return
	}

	err := a.Coord.DeleteRoom(r.Context(), pin, creator)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "room not found", http.StatusNotFound)
	case errors.Is(err, store.ErrNotCreator):
		http.Error(w, err.Error(), http.StatusForbidden)
	case err != nil:
		http.Error(w, "could not delete room", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// send JSON with proper headers
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
