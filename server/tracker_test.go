package server

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/andrei-cloud/sockframe"
	"github.com/stretchr/testify/require"
)

func TestTrackerScan(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	old := sockframe.NewConn(a, sockframe.NoTimeout)
	young := sockframe.NewConn(b, sockframe.NoTimeout)
	now := time.Now()

	var mu sync.Mutex
	infos := []ConnInfo{
		{Conn: old, Admitted: now.Add(-time.Minute)},
		{Conn: young, Admitted: now},
	}
	source := func() []ConnInfo {
		mu.Lock()
		defer mu.Unlock()
		return append([]ConnInfo(nil), infos...)
	}

	tr := newTracker(time.Second, source, &sockframe.NoopLogger{}, nil)

	require.Equal(t, []uint64{old.ID()}, tr.Scan(now))
	require.Empty(t, tr.Scan(now), "a connection is reported once")

	later := now.Add(2 * time.Second)
	require.Equal(t, []uint64{young.ID()}, tr.Scan(later))

	// A connection that left the registry is forgotten.
	mu.Lock()
	infos = infos[1:]
	mu.Unlock()
	require.Empty(t, tr.Scan(later))
	tr.mu.Lock()
	_, tracked := tr.flagged[old.ID()]
	tr.mu.Unlock()
	require.False(t, tracked)
}

func TestTrackerRunStop(t *testing.T) {
	tr := newTracker(20*time.Millisecond, func() []ConnInfo { return nil }, &sockframe.NoopLogger{}, nil)
	go tr.run()

	done := make(chan struct{})
	go func() {
		tr.Stop()
		tr.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tracker did not stop")
	}
}
