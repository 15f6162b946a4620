package relay

import (
	"sync"
	"time"

	"log/slog"

	"chatrelay/pkg/metrics"
)

// Reclaimer delays durable teardown after an ungraceful disconnect so a
// transient blip or page reload can resume without side effects. At most
// one pending timer exists per device id; scheduling always replaces,
// never stacks.
type Reclaimer struct {
	log      *slog.Logger
	grace    time.Duration
	teardown func(deviceID string)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewReclaimer(log *slog.Logger, grace time.Duration, teardown func(deviceID string)) *Reclaimer {
	return &Reclaimer{
		log:      log,
		grace:    grace,
		teardown: teardown,
		timers:   make(map[string]*time.Timer),
	}
}

// Schedule arms the grace timer for a device, replacing any pending one
func (r *Reclaimer) Schedule(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[deviceID]; ok {
		t.Stop()
	}
	r.timers[deviceID] = time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		delete(r.timers, deviceID)
		r.mu.Unlock()
		r.log.Debug("reclaim.fired", "device", deviceID)
		r.teardown(deviceID)
	})
	r.log.Debug("reclaim.scheduled", "device", deviceID, "grace", r.grace)
}

// Cancel disarms a pending timer for the device; a rebind within the
// grace window takes this path. Reports whether a timer was pending.
func (r *Reclaimer) Cancel(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.timers[deviceID]
	if !ok {
		return false
	}
	t.Stop()
	delete(r.timers, deviceID)
	metrics.ReclaimsCancelled.Inc()
	r.log.Debug("reclaim.cancelled", "device", deviceID)
	return true
}

// Pending reports whether a timer is armed for the device
func (r *Reclaimer) Pending(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[deviceID]
	return ok
}

// Stop disarms every pending timer, used on shutdown
func (r *Reclaimer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}
