package server

import (
	"sync"
	"time"

	"github.com/andrei-cloud/sockframe"
)

// Tracker reports connections that stay registered longer than a threshold.
// Each connection is reported once.
type Tracker struct {
	threshold time.Duration
	source    func() []ConnInfo
	logger    sockframe.Logger
	metrics   *Metrics

	mu      sync.Mutex
	flagged map[uint64]struct{}

	stop chan struct{}
	done chan struct{}
}

func newTracker(threshold time.Duration, source func() []ConnInfo, l sockframe.Logger, m *Metrics) *Tracker {
	return &Tracker{
		threshold: threshold,
		source:    source,
		logger:    l,
		metrics:   m,
		flagged:   make(map[uint64]struct{}),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Scan reports connections older than the threshold at now and returns
// the IDs reported by this call.
func (t *Tracker) Scan(now time.Time) []uint64 {
	infos := t.source()
	live := make(map[uint64]struct{}, len(infos))

	var reported []uint64
	t.mu.Lock()
	for _, info := range infos {
		id := info.Conn.ID()
		live[id] = struct{}{}
		age := now.Sub(info.Admitted)
		if age < t.threshold {
			continue
		}
		if _, seen := t.flagged[id]; seen {
			continue
		}
		t.flagged[id] = struct{}{}
		reported = append(reported, id)
		t.logger.Warnf("connection %d from %v outstanding for %v", id, info.Conn.RemoteAddr(), age.Round(time.Millisecond))
		t.metrics.leaked()
	}
	for id := range t.flagged {
		if _, ok := live[id]; !ok {
			delete(t.flagged, id)
		}
	}
	t.mu.Unlock()

	return reported
}

func (t *Tracker) run() {
	defer close(t.done)

	interval := t.threshold / 2
	if interval <= 0 {
		interval = t.threshold
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case now := <-ticker.C:
			t.Scan(now)
		}
	}
}

// Stop ends the background scan and waits for it to exit.
func (t *Tracker) Stop() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	<-t.done
}
