package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// socket is the slice of the websocket the relay needs; tests swap in an
// in-memory recorder.
type socket interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

// Accept upgrades HTTP to websocket (allow all origins)
func Accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
}

type wsSocket struct{ ws *websocket.Conn }

func (s wsSocket) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := s.ws.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText || typ == websocket.MessageBinary {
			return data, nil
		}
	}
}

func (s wsSocket) Write(ctx context.Context, data []byte) error {
	return s.ws.Write(ctx, websocket.MessageText, data)
}

func (s wsSocket) Ping(ctx context.Context) error { return s.ws.Ping(ctx) }

func (s wsSocket) Close(code websocket.StatusCode, reason string) error {
	return s.ws.Close(code, reason)
}

// Conn is one live client connection. The identity fields are empty until
// a join binds them; Addr is known from the first byte.
type Conn struct {
	sock socket
	out  chan []byte
	addr string

	mu       sync.Mutex
	deviceID string
	userID   string
	roomPIN  string

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps an accepted websocket for the relay
func NewConn(ws *websocket.Conn, addr string) *Conn {
	return newConn(wsSocket{ws: ws}, addr)
}

func newConn(sock socket, addr string) *Conn {
	return &Conn{
		sock: sock,
		addr: addr,
		out:  make(chan []byte, 256),
		done: make(chan struct{}),
	}
}

func (c *Conn) Addr() string { return c.addr }

func (c *Conn) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Conn) RoomPIN() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomPIN
}

func (c *Conn) setDeviceID(id string) {
	c.mu.Lock()
	c.deviceID = id
	c.mu.Unlock()
}

func (c *Conn) setUserID(id string) {
	c.mu.Lock()
	c.userID = id
	c.mu.Unlock()
}

func (c *Conn) setRoomPIN(pin string) {
	c.mu.Lock()
	c.roomPIN = pin
	c.mu.Unlock()
}

// Read blocks for the next data frame, false on close
func (c *Conn) Read(ctx context.Context) ([]byte, bool) {
	data, err := c.sock.Read(ctx)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Send queues an event without blocking; a client that cannot drain its
// buffer loses frames rather than stalling the room.
func (c *Conn) Send(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	frame, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		return
	}
	select {
	case c.out <- frame:
	default:
	}
}

// SendNow writes an event synchronously, bypassing the outbound queue.
// Used for the session_conflict notice that must leave before the forced
// close.
func (c *Conn) SendNow(ctx context.Context, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sock.Write(ctx, frame)
}

// WriteLoop drains the outbound queue and keeps the connection alive with
// periodic pings. Exits when ctx is cancelled or the conn is closed.
func (c *Conn) WriteLoop(ctx context.Context) {
	t := time.NewTicker(20 * time.Second)
	defer t.Stop()

	for {
		select {
		case frame := <-c.out:
			c.writeMu.Lock()
			_ = c.sock.Write(ctx, frame)
			c.writeMu.Unlock()
		case <-t.C:
			_ = c.sock.Ping(ctx)
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close terminates the connection; safe to call more than once
func (c *Conn) Close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.sock.Close(code, reason)
	})
}
