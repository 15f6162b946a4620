package relay

import (
	"net"
	"sync"

	"chatrelay/pkg/metrics"
)

// Registry owns the live-connection indices: network address, device id
// and user id each resolve to at most one canonical connection. All three
// maps share one mutex so an evict-then-bind for a key is a single
// critical section; two racing joins for the same device cannot both
// believe they won.
type Registry struct {
	mu       sync.Mutex
	byAddr   map[string]*Conn
	byDevice map[string]*Conn
	byUser   map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{
		byAddr:   make(map[string]*Conn),
		byDevice: make(map[string]*Conn),
		byUser:   make(map[string]*Conn),
	}
}

// RegisterAddress claims a network host for a connection. A second
// connection is rejected only while the host's prior connection has not
// yet identified itself: that is the trivial double-tap from one source.
// Once the prior holder is device-bound, a newcomer from the same host is
// legitimate (second device behind NAT, new tab) and is resolved later by
// the device/user eviction protocol.
func (r *Registry) RegisterAddress(addr string, c *Conn) error {
	host := addrHost(addr)
	r.mu.Lock()
	defer r.mu.Unlock()
	if prior, ok := r.byAddr[host]; ok && prior != c && prior.DeviceID() == "" {
		return ErrDuplicateAddress
	}
	r.byAddr[host] = c
	return nil
}

// addrHost strips the port so all sockets from one origin share a key
func addrHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// BindDevice makes c the canonical holder of a device id and returns the
// displaced prior connection, nil if there was none (or it was already c).
// Last writer wins: a human reconnecting beats a stale handle.
func (r *Registry) BindDevice(deviceID string, c *Conn) *Conn {
	r.mu.Lock()
	prior := r.byDevice[deviceID]
	r.byDevice[deviceID] = c
	r.mu.Unlock()

	c.setDeviceID(deviceID)
	if prior == c {
		return nil
	}
	if prior != nil {
		metrics.Evictions.WithLabelValues("device").Inc()
	}
	return prior
}

// BindUser is the same eviction protocol keyed by user id
func (r *Registry) BindUser(userID string, c *Conn) *Conn {
	r.mu.Lock()
	prior := r.byUser[userID]
	r.byUser[userID] = c
	r.mu.Unlock()

	c.setUserID(userID)
	if prior == c {
		return nil
	}
	if prior != nil {
		metrics.Evictions.WithLabelValues("user").Inc()
	}
	return prior
}

// DeviceHolder returns the current canonical connection for a device id
func (r *Registry) DeviceHolder(deviceID string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byDevice[deviceID]
}

// Unbind drops every index entry still pointing at c. Idempotent, and a
// half-bound connection (failed mid-join) is fine: entries are only
// removed when they are c's.
func (r *Registry) Unbind(c *Conn) {
	host := addrHost(c.Addr())
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byAddr[host]; ok && cur == c {
		delete(r.byAddr, host)
	}
	if id := c.DeviceID(); id != "" {
		if cur, ok := r.byDevice[id]; ok && cur == c {
			delete(r.byDevice, id)
		}
	}
	if id := c.UserID(); id != "" {
		if cur, ok := r.byUser[id]; ok && cur == c {
			delete(r.byUser, id)
		}
	}
}
