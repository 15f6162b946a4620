package store

import "time"

type User struct {
	ID        string
	Nickname  string
	DeviceID  string
	CreatedAt time.Time
}

type Room struct {
	ID        string
	PIN       string
	MaxUsers  int
	CreatorID string
	CreatedAt time.Time
}

type Session struct {
	ID        string
	UserID    string
	RoomID    string
	DeviceID  string
	CreatedAt time.Time
}

type Message struct {
	ID        string
	RoomID    string
	UserID    string
	Nickname  string
	Body      string
	CreatedAt time.Time
}

// Member is a row of the membership list broadcast to a room,
// ordered by when the session was created.
type Member struct {
	UserID   string
	Nickname string
}

// RemovedSession describes a session row that was just deleted, with
// enough room/user context to broadcast the departure.
type RemovedSession struct {
	RoomID   string
	RoomPIN  string
	MaxUsers int
	UserID   string
	Nickname string
}
