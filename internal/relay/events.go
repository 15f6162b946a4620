package relay

import (
	"encoding/json"
	"time"
)

// Inbound event names
const (
	evCreateRoom  = "create_room"
	evJoinRoom    = "join_room"
	evSendMessage = "send_message"
)

// Outbound event names
const (
	evRoomCreated     = "room_created"
	evJoinedRoom      = "joined_room"
	evMessageHistory  = "message_history"
	evUserList        = "user_list"
	evSystemMessage   = "system_message"
	evReceiveMessage  = "receive_message"
	evSessionConflict = "session_conflict"
	evHostInfo        = "host_info"
	evError           = "error"
)

// Envelope is the wire frame for every event in either direction
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type createRoomPayload struct {
	// json.Number so "maxClients": 2.5 is rejected instead of truncated
	MaxClients json.Number `json:"maxClients"`
	UserID     string      `json:"userId"`
}

type joinRoomPayload struct {
	PIN      string `json:"pin"`
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
	// Signed alternative to DeviceID, issued at registration; wins when set
	DeviceToken string `json:"deviceToken,omitempty"`
}

type sendMessagePayload struct {
	PIN     string `json:"pin"`
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

type roomCreatedPayload struct {
	PIN string `json:"pin"`
}

type joinedRoomPayload struct {
	PIN    string `json:"pin"`
	UserID string `json:"userId"`
}

type userListPayload struct {
	Users    []string `json:"users"`
	MaxUsers int      `json:"maxUsers"`
}

type systemMessagePayload struct {
	Message string `json:"message"`
}

// messagePayload is one chat message as delivered live and in history replay
type messagePayload struct {
	Nickname string    `json:"nickname"`
	Message  string    `json:"message"`
	CreateAt time.Time `json:"createAt"`
}

type sessionConflictPayload struct {
	Reason string `json:"reason"`
}

type hostInfoPayload struct {
	Host string `json:"host"`
	IP   string `json:"ip"`
}

type errorPayload struct {
	Message string `json:"message"`
}
