package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"log/slog"
	"nhooyr.io/websocket"

	"chatrelay/internal/store"
)

// fakeSocket records everything written through it
type fakeSocket struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	code   websocket.StatusCode
}

func (s *fakeSocket) Read(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeSocket) Write(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, data)
	return nil
}

func (s *fakeSocket) Ping(context.Context) error { return nil }

func (s *fakeSocket) Close(code websocket.StatusCode, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.code = code
	return nil
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// written decodes frames written directly to the socket (SendNow path)
func (s *fakeSocket) written(t *testing.T) []Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Envelope, 0, len(s.frames))
	for _, f := range s.frames {
		var env Envelope
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("bad frame %q: %v", f, err)
		}
		out = append(out, env)
	}
	return out
}

// drain empties a connection's outbound queue into decoded envelopes
func drain(t *testing.T, c *Conn) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case frame := <-c.out:
			var env Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				t.Fatalf("bad frame %q: %v", frame, err)
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func eventNames(envs []Envelope) []string {
	names := make([]string, 0, len(envs))
	for _, e := range envs {
		names = append(names, e.Event)
	}
	return names
}

func countEvent(envs []Envelope, name string) int {
	n := 0
	for _, e := range envs {
		if e.Event == name {
			n++
		}
	}
	return n
}

func testConn(addr string) (*Conn, *fakeSocket) {
	sock := &fakeSocket{}
	return newConn(sock, addr), sock
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory Store; session/message order follows an
// insertion counter the way created_at orders rows in postgres.
type fakeStore struct {
	mu       sync.Mutex
	seq      int
	nextPIN  int
	users    map[string]string     // id -> nickname
	rooms    map[string]store.Room // id -> room
	sessions map[string]fakeSession
	messages map[string][]store.Message // roomID -> messages

	failSave bool // force SaveMessage errors
}

type fakeSession struct {
	userID, roomID, deviceID string
	order                    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextPIN:  100000,
		users:    make(map[string]string),
		rooms:    make(map[string]store.Room),
		sessions: make(map[string]fakeSession),
		messages: make(map[string][]store.Message),
	}
}

func (f *fakeStore) addUser(id, nickname string) {
	f.mu.Lock()
	f.users[id] = nickname
	f.mu.Unlock()
}

func sessionKey(userID, deviceID string) string { return userID + "|" + deviceID }

func (f *fakeStore) CreateRoom(_ context.Context, maxUsers int, creatorID string) (store.Room, error) {
	if maxUsers < 1 || maxUsers > 10 {
		return store.Room{}, store.ErrBadCapacity
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	owned := 0
	for _, r := range f.rooms {
		if r.CreatorID == creatorID {
			owned++
		}
	}
	if owned >= 3 {
		return store.Room{}, store.ErrOwnerRoomLimit
	}
	f.nextPIN++
	r := store.Room{
		ID:        fmt.Sprintf("room-%d", f.nextPIN),
		PIN:       fmt.Sprintf("%d", f.nextPIN),
		MaxUsers:  maxUsers,
		CreatorID: creatorID,
		CreatedAt: time.Now(),
	}
	f.rooms[r.ID] = r
	return r, nil
}

func (f *fakeStore) RoomByPIN(_ context.Context, pin string) (store.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rooms {
		if r.PIN == pin {
			return r, nil
		}
	}
	return store.Room{}, store.ErrNotFound
}

func (f *fakeStore) DeleteRoom(_ context.Context, pin, creatorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var roomID string
	for id, r := range f.rooms {
		if r.PIN == pin {
			if r.CreatorID != creatorID {
				return store.ErrNotCreator
			}
			roomID = id
		}
	}
	if roomID == "" {
		return store.ErrNotFound
	}
	delete(f.rooms, roomID)
	for key, s := range f.sessions {
		if s.roomID == roomID {
			delete(f.sessions, key)
		}
	}
	delete(f.messages, roomID)
	return nil
}

func (f *fakeStore) DeleteRoomIfAbandoned(_ context.Context, roomID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.roomID == roomID {
			return false, nil
		}
	}
	if len(f.messages[roomID]) > 0 {
		return false, nil
	}
	if _, ok := f.rooms[roomID]; !ok {
		return false, nil
	}
	delete(f.rooms, roomID)
	return true, nil
}

func (f *fakeStore) UpsertSession(_ context.Context, userID, roomID, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := sessionKey(userID, deviceID)
	if existing, ok := f.sessions[key]; ok {
		if existing.roomID == roomID {
			return nil // idempotent rejoin
		}
		delete(f.sessions, key)
	}
	f.seq++
	f.sessions[key] = fakeSession{userID: userID, roomID: roomID, deviceID: deviceID, order: f.seq}
	return nil
}

func (f *fakeStore) deleteSessionsWhere(match func(fakeSession) bool) []store.RemovedSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.RemovedSession
	for key, s := range f.sessions {
		if !match(s) {
			continue
		}
		room := f.rooms[s.roomID]
		out = append(out, store.RemovedSession{
			RoomID:   s.roomID,
			RoomPIN:  room.PIN,
			MaxUsers: room.MaxUsers,
			UserID:   s.userID,
			Nickname: f.users[s.userID],
		})
		delete(f.sessions, key)
	}
	return out
}

func (f *fakeStore) DeleteSessionsByDevice(_ context.Context, deviceID string) ([]store.RemovedSession, error) {
	return f.deleteSessionsWhere(func(s fakeSession) bool { return s.deviceID == deviceID }), nil
}

func (f *fakeStore) DeleteSessionsByUser(_ context.Context, userID string) ([]store.RemovedSession, error) {
	return f.deleteSessionsWhere(func(s fakeSession) bool { return s.userID == userID }), nil
}

func (f *fakeStore) SessionCount(_ context.Context, roomID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sessions {
		if s.roomID == roomID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) HasSession(_ context.Context, userID, roomID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.userID == userID && s.roomID == roomID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) Members(_ context.Context, roomID string) ([]store.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []fakeSession
	for _, s := range f.sessions {
		if s.roomID == roomID {
			rows = append(rows, s)
		}
	}
	for i := range rows {
		for j := i + 1; j < len(rows); j++ {
			if rows[j].order < rows[i].order {
				rows[i], rows[j] = rows[j], rows[i]
			}
		}
	}
	out := make([]store.Member, 0, len(rows))
	for _, s := range rows {
		out = append(out, store.Member{UserID: s.userID, Nickname: f.users[s.userID]})
	}
	return out, nil
}

func (f *fakeStore) SaveMessage(_ context.Context, roomID, userID, body string) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return store.Message{}, fmt.Errorf("save failed")
	}
	f.seq++
	m := store.Message{
		ID:        fmt.Sprintf("msg-%d", f.seq),
		RoomID:    roomID,
		UserID:    userID,
		Nickname:  f.users[userID],
		Body:      body,
		CreatedAt: time.Unix(0, int64(f.seq)),
	}
	f.messages[roomID] = append(f.messages[roomID], m)
	return m, nil
}

func (f *fakeStore) History(_ context.Context, roomID string) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Message(nil), f.messages[roomID]...), nil
}

// fakeCache mirrors the history cache contract: Fill replaces the list
// wholesale the way DEL+RPUSH does, empty rooms stay misses. holdNextFill
// lets a test keep one refill open while other calls race it.
type fakeCache struct {
	mu    sync.Mutex
	data  map[string][]messagePayload
	drops []string

	fillEntered chan struct{}
	fillGate    chan struct{}
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]messagePayload)}
}

func (f *fakeCache) Append(_ context.Context, pin string, m messagePayload) {
	f.mu.Lock()
	f.data[pin] = append(f.data[pin], m)
	f.mu.Unlock()
}

func (f *fakeCache) Replay(_ context.Context, pin string) ([]messagePayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.data[pin]
	if len(msgs) == 0 {
		return nil, false
	}
	return append([]messagePayload(nil), msgs...), true
}

func (f *fakeCache) Fill(_ context.Context, pin string, msgs []messagePayload) {
	f.mu.Lock()
	entered, gate := f.fillEntered, f.fillGate
	f.fillEntered, f.fillGate = nil, nil
	f.mu.Unlock()
	if entered != nil {
		close(entered)
	}
	if gate != nil {
		<-gate
	}
	if len(msgs) == 0 {
		return
	}
	f.mu.Lock()
	f.data[pin] = append([]messagePayload(nil), msgs...)
	f.mu.Unlock()
}

func (f *fakeCache) Drop(_ context.Context, pin string) {
	f.mu.Lock()
	delete(f.data, pin)
	f.drops = append(f.drops, pin)
	f.mu.Unlock()
}

// holdNextFill arms the next Fill call to block; the returned channels
// signal entry and release it.
func (f *fakeCache) holdNextFill() (entered, gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fillEntered = make(chan struct{})
	f.fillGate = make(chan struct{})
	return f.fillEntered, f.fillGate
}

func (f *fakeCache) forget(pin string) {
	f.mu.Lock()
	delete(f.data, pin)
	f.mu.Unlock()
}

func (f *fakeCache) cached(pin string) []messagePayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]messagePayload(nil), f.data[pin]...)
}

func (f *fakeCache) dropped(pin string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.drops {
		if p == pin {
			return true
		}
	}
	return false
}

func (f *fakeStore) sessionFor(userID, deviceID string) (fakeSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionKey(userID, deviceID)]
	return s, ok
}

func (f *fakeStore) roomExists(roomID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rooms[roomID]
	return ok
}
