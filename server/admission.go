package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andrei-cloud/sockframe"
)

// ErrCapacityExceeded indicates a connection was refused at admission.
var ErrCapacityExceeded = errors.New("server at connection capacity")

// ConnInfo describes one registered connection.
type ConnInfo struct {
	Conn     *sockframe.Conn
	Admitted time.Time
}

// admission owns the active connection set. Every read and mutation of
// the set happens under mu; no I/O is done while holding it.
type admission struct {
	mu      sync.Mutex
	max     int
	active  map[*sockframe.Conn]time.Time
	wrap    func(net.Conn) *sockframe.Conn
	pool    WorkerPool
	serve   func(*sockframe.Conn)
	metrics *Metrics
}

func newAdmission(max int, wrap func(net.Conn) *sockframe.Conn, pool WorkerPool, serve func(*sockframe.Conn), m *Metrics) *admission {
	return &admission{
		max:     max,
		active:  make(map[*sockframe.Conn]time.Time),
		wrap:    wrap,
		pool:    pool,
		serve:   serve,
		metrics: m,
	}
}

// tryAdmit registers raw and submits it to the worker pool. It reports
// false, leaving raw open, when the set is at capacity.
func (a *admission) tryAdmit(raw net.Conn) (*sockframe.Conn, bool, error) {
	a.mu.Lock()
	if a.max > 0 && len(a.active) >= a.max {
		a.mu.Unlock()
		a.metrics.rejected()
		return nil, false, nil
	}
	c := a.wrap(raw)
	a.active[c] = time.Now()
	a.mu.Unlock()
	a.metrics.admitted()

	if err := a.pool.Submit(func() { a.serve(c) }); err != nil {
		a.release(c)
		return c, false, fmt.Errorf("submit connection %d: %w", c.ID(), err)
	}

	return c, true, nil
}

// release removes c from the set. It reports whether c was registered.
func (a *admission) release(c *sockframe.Conn) bool {
	a.mu.Lock()
	_, ok := a.active[c]
	delete(a.active, c)
	a.mu.Unlock()

	if ok {
		a.metrics.released()
	}
	return ok
}

func (a *admission) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}

// snapshot copies the set so callers can act on it without the lock.
func (a *admission) snapshot() []ConnInfo {
	a.mu.Lock()
	out := make([]ConnInfo, 0, len(a.active))
	for c, at := range a.active {
		out = append(out, ConnInfo{Conn: c, Admitted: at})
	}
	a.mu.Unlock()

	return out
}

func (a *admission) forEach(fn func(ConnInfo)) {
	for _, info := range a.snapshot() {
		fn(info)
	}
}

func (a *admission) countByHost(host string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for c := range a.active {
		if c.RemoteHost() == host {
			n++
		}
	}
	return n
}
