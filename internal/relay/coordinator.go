package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"
	"nhooyr.io/websocket"

	"chatrelay/internal/store"
	"chatrelay/pkg/metrics"
)

// Store is the slice of the identity store the coordinator drives.
// *store.Postgres satisfies it; tests use an in-memory fake.
type Store interface {
	CreateRoom(ctx context.Context, maxUsers int, creatorID string) (store.Room, error)
	RoomByPIN(ctx context.Context, pin string) (store.Room, error)
	DeleteRoom(ctx context.Context, pin, creatorID string) error
	DeleteRoomIfAbandoned(ctx context.Context, roomID string) (bool, error)

	UpsertSession(ctx context.Context, userID, roomID, deviceID string) error
	DeleteSessionsByDevice(ctx context.Context, deviceID string) ([]store.RemovedSession, error)
	DeleteSessionsByUser(ctx context.Context, userID string) ([]store.RemovedSession, error)
	SessionCount(ctx context.Context, roomID string) (int, error)
	HasSession(ctx context.Context, userID, roomID string) (bool, error)
	Members(ctx context.Context, roomID string) ([]store.Member, error)

	SaveMessage(ctx context.Context, roomID, userID, body string) (store.Message, error)
	History(ctx context.Context, roomID string) ([]store.Message, error)
}

// messageCache is the history cache surface the coordinator drives.
// *HistoryCache satisfies it; tests use an in-memory fake.
type messageCache interface {
	Append(ctx context.Context, pin string, m messagePayload)
	Replay(ctx context.Context, pin string) ([]messagePayload, bool)
	Fill(ctx context.Context, pin string, msgs []messagePayload)
	Drop(ctx context.Context, pin string)
}

// Coordinator orchestrates join/send workflows against the store and owns
// the live broadcast targets per room PIN.
type Coordinator struct {
	log      *slog.Logger
	db       Store
	registry *Registry
	reclaim  *Reclaimer
	cache    messageCache

	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{} // live conns by room PIN

	// per-room send lock: persisted order must equal delivery order
	sendMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewCoordinator wires the coordinator and its disconnect reclaimer.
// cache may be nil, history then always comes from the store.
func NewCoordinator(log *slog.Logger, db Store, reg *Registry, cache *HistoryCache, grace time.Duration) *Coordinator {
	c := &Coordinator{
		log:      log,
		db:       db,
		registry: reg,
		cache:    cache,
		rooms:    make(map[string]map[*Conn]struct{}),
		locks:    make(map[string]*sync.Mutex),
	}
	c.reclaim = NewReclaimer(log, grace, c.reclaimDevice)
	return c
}

// Reclaimer exposes the disconnect reclaimer, mostly for tests
func (c *Coordinator) Reclaimer() *Reclaimer { return c.reclaim }

// CreateRoom validates capacity and delegates to the store
func (c *Coordinator) CreateRoom(ctx context.Context, maxClients int, creatorID string) (store.Room, error) {
	if creatorID == "" {
		return store.Room{}, fmt.Errorf("%w: missing userId", ErrValidation)
	}
	room, err := c.db.CreateRoom(ctx, maxClients, creatorID)
	if err != nil {
		return store.Room{}, err
	}
	c.log.Info("room.created", "pin", room.PIN, "max", room.MaxUsers, "creator", creatorID)
	return room, nil
}

// DeleteRoom tears a room down at its creator's request: the durable rows
// go first (sessions and messages cascade), then everyone still connected
// is told and unjoined, and the cached history is discarded so a future
// room reusing the PIN starts clean.
func (c *Coordinator) DeleteRoom(ctx context.Context, pin, creatorID string) error {
	if err := c.db.DeleteRoom(ctx, pin, creatorID); err != nil {
		return err
	}
	c.Broadcast(pin, evSystemMessage, systemMessagePayload{Message: "room closed by its creator"})
	c.cache.Drop(ctx, pin)
	c.dropRoom(pin)
	c.log.Info("room.deleted", "pin", pin, "creator", creatorID)
	return nil
}

// JoinRoom runs the full join workflow for a connection. No broadcast is
// sent unless every durable step succeeded.
func (c *Coordinator) JoinRoom(ctx context.Context, pin, userID, deviceID string, conn *Conn) error {
	if pin == "" || userID == "" || deviceID == "" {
		return fmt.Errorf("%w: pin, userId and deviceId are required", ErrValidation)
	}

	// 1. displace any conflicting holders of this device/user
	if prior := c.registry.BindDevice(deviceID, conn); prior != nil {
		c.evict(ctx, prior, reasonDeviceSuperseded)
		if _, err := c.db.DeleteSessionsByDevice(ctx, deviceID); err != nil {
			c.log.Warn("join.evict.session_delete", "device", deviceID, "err", err)
		}
	}
	if prior := c.registry.BindUser(userID, conn); prior != nil {
		c.evict(ctx, prior, reasonUserSuperseded)
		if _, err := c.db.DeleteSessionsByUser(ctx, userID); err != nil {
			c.log.Warn("join.evict.session_delete", "user", userID, "err", err)
		}
	}

	// 2. a reconnect supersedes any scheduled cleanup for this device
	c.reclaim.Cancel(deviceID)

	// 3. resolve the room
	room, err := c.db.RoomByPIN(ctx, pin)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoomNotFound
		}
		return err
	}

	// 4-5. capacity check and session upsert; a rejoin of the same room is
	// idempotent and never counts against capacity
	already, err := c.db.HasSession(ctx, userID, room.ID)
	if err != nil {
		return err
	}
	if !already {
		n, err := c.db.SessionCount(ctx, room.ID)
		if err != nil {
			return err
		}
		if n >= room.MaxUsers {
			return ErrRoomFull
		}
	}
	if err := c.db.UpsertSession(ctx, userID, room.ID, deviceID); err != nil {
		return err
	}
	conn.setRoomPIN(pin)

	// 6. history replay, oldest first
	history, err := c.history(ctx, room)
	if err != nil {
		return err
	}

	c.addToRoom(pin, conn)

	// 7. fresh membership to the whole room; the "who joined" notice names
	// the last row, best-effort under racing joins
	members, err := c.db.Members(ctx, room.ID)
	if err != nil {
		return err
	}
	c.Broadcast(pin, evUserList, userListPayload{Users: nicknames(members), MaxUsers: room.MaxUsers})
	if !already && len(members) > 0 {
		newest := members[len(members)-1].Nickname
		c.Broadcast(pin, evSystemMessage, systemMessagePayload{
			Message: fmt.Sprintf("%s joined the room", newest),
		})
	}

	// 8. private acknowledgment, then the replayed history
	conn.Send(evJoinedRoom, joinedRoomPayload{PIN: pin, UserID: userID})
	conn.Send(evMessageHistory, history)

	c.log.Info("join.ok", "pin", pin, "user", userID, "device", deviceID, "members", len(members))
	return nil
}

// SendMessage persists then broadcasts; the sender's copy is the broadcast
// copy, there is no local echo.
func (c *Coordinator) SendMessage(ctx context.Context, pin, userID, body string, conn *Conn) error {
	if pin == "" || userID == "" || body == "" {
		return fmt.Errorf("%w: pin, userId and message are required", ErrValidation)
	}
	room, err := c.db.RoomByPIN(ctx, pin)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRoomNotFound
		}
		return err
	}
	member, err := c.db.HasSession(ctx, userID, room.ID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotInRoom
	}

	// Holding the room lock across persist+broadcast keeps delivery order
	// identical to persisted order.
	lock := c.roomLock(pin)
	lock.Lock()
	defer lock.Unlock()

	msg, err := c.db.SaveMessage(ctx, room.ID, userID, body)
	if err != nil {
		return err
	}
	wire := messagePayload{Nickname: msg.Nickname, Message: msg.Body, CreateAt: msg.CreatedAt}
	c.cache.Append(ctx, pin, wire)
	c.Broadcast(pin, evReceiveMessage, wire)
	return nil
}

// HandleDisconnect clears the live mappings immediately and defers the
// durable teardown to the reclaimer; a device that was never bound needs
// nothing.
func (c *Coordinator) HandleDisconnect(conn *Conn) {
	c.registry.Unbind(conn)
	if pin := conn.RoomPIN(); pin != "" {
		c.removeFromRoom(pin, conn)
	}
	device := conn.DeviceID()
	if device == "" {
		return
	}
	// an evicted connection loses its index entries to the winner; the
	// device is still live there, so no grace timer is owed
	if c.registry.DeviceHolder(device) != nil {
		return
	}
	c.reclaim.Schedule(device)
}

// reclaimDevice is the grace-timer teardown: drop the device's session,
// tell its room, and delete the room if nothing is left in it.
func (c *Coordinator) reclaimDevice(deviceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	removed, err := c.db.DeleteSessionsByDevice(ctx, deviceID)
	if err != nil {
		// leave the stale session for the next join to correct
		c.log.Warn("reclaim.session_delete", "device", deviceID, "err", err)
		return
	}
	if len(removed) == 0 {
		// the session was already gone, nothing was torn down
		return
	}
	metrics.ReclaimsFired.Inc()
	for _, rs := range removed {
		members, err := c.db.Members(ctx, rs.RoomID)
		if err != nil {
			c.log.Warn("reclaim.members", "room", rs.RoomPIN, "err", err)
			continue
		}
		c.Broadcast(rs.RoomPIN, evUserList, userListPayload{Users: nicknames(members), MaxUsers: rs.MaxUsers})
		c.Broadcast(rs.RoomPIN, evSystemMessage, systemMessagePayload{
			Message: fmt.Sprintf("%s left the room", rs.Nickname),
		})

		gone, err := c.db.DeleteRoomIfAbandoned(ctx, rs.RoomID)
		if err != nil {
			c.log.Warn("reclaim.room_delete", "room", rs.RoomPIN, "err", err)
			continue
		}
		if gone {
			c.cache.Drop(ctx, rs.RoomPIN)
			c.dropRoom(rs.RoomPIN)
			c.log.Info("reclaim.room_deleted", "pin", rs.RoomPIN)
		}
	}
}

// evict notifies and terminates a displaced connection, then removes it
// from every live structure. The durable session delete is the caller's
// next step.
func (c *Coordinator) evict(ctx context.Context, prior *Conn, reason string) {
	notifyCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	_ = prior.SendNow(notifyCtx, evSessionConflict, sessionConflictPayload{Reason: reason})
	cancel()

	c.registry.Unbind(prior)
	if pin := prior.RoomPIN(); pin != "" {
		c.removeFromRoom(pin, prior)
	}
	prior.Close(websocket.StatusPolicyViolation, "session conflict")
	c.log.Info("conn.evicted", "addr", prior.Addr(), "reason", reason)
}

// history serves replay from the cache when it has the room, refilling it
// from the store on a miss.
func (c *Coordinator) history(ctx context.Context, room store.Room) ([]messagePayload, error) {
	if msgs, ok := c.cache.Replay(ctx, room.PIN); ok {
		return msgs, nil
	}

	// The rebuild holds the room's send lock: a concurrent send either
	// commits before the store read here or waits until the refill is
	// done, so the rebuilt list cannot lose its append.
	lock := c.roomLock(room.PIN)
	lock.Lock()
	defer lock.Unlock()

	stored, err := c.db.History(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	out := make([]messagePayload, 0, len(stored))
	for _, m := range stored {
		out = append(out, messagePayload{Nickname: m.Nickname, Message: m.Body, CreateAt: m.CreatedAt})
	}
	c.cache.Fill(ctx, room.PIN, out)
	return out, nil
}

// Broadcast fans an event out to every live connection in a room
func (c *Coordinator) Broadcast(pin, event string, payload any) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for conn := range c.rooms[pin] {
		conn.Send(event, payload)
	}
	metrics.Broadcasts.Inc()
}

func (c *Coordinator) addToRoom(pin string, conn *Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// a session migration leaves the old room's conn set
	for p, set := range c.rooms {
		if p != pin {
			delete(set, conn)
		}
	}
	set := c.rooms[pin]
	if set == nil {
		set = make(map[*Conn]struct{})
		c.rooms[pin] = set
	}
	set[conn] = struct{}{}
}

func (c *Coordinator) removeFromRoom(pin string, conn *Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.rooms[pin]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(c.rooms, pin)
		}
	}
}

// dropRoom clears a deleted room's live state; any connection still in the
// set reverts to unjoined.
func (c *Coordinator) dropRoom(pin string) {
	c.mu.Lock()
	for conn := range c.rooms[pin] {
		conn.setRoomPIN("")
	}
	delete(c.rooms, pin)
	c.mu.Unlock()

	c.sendMu.Lock()
	delete(c.locks, pin)
	c.sendMu.Unlock()
}

func (c *Coordinator) roomLock(pin string) *sync.Mutex {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	lock := c.locks[pin]
	if lock == nil {
		lock = &sync.Mutex{}
		c.locks[pin] = lock
	}
	return lock
}

func nicknames(members []store.Member) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.Nickname)
	}
	return out
}
