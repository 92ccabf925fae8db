package sockframe_test

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/andrei-cloud/sockframe"
	"github.com/stretchr/testify/require"
)

// waitGroupWithTimeout reports whether wg completed before timeout.
func waitGroupWithTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// testServer accepts loopback connections and runs serve on each one.
type testServer struct {
	l     net.Listener
	mu    sync.Mutex
	conns []net.Conn
	wg    sync.WaitGroup
}

func startTestServer(t *testing.T, serve func(net.Conn)) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ts := &testServer{l: l}
	ts.wg.Add(1)
	go func() {
		defer ts.wg.Done()
		for {
			nc, err := l.Accept()
			if err != nil {
				return
			}
			ts.mu.Lock()
			ts.conns = append(ts.conns, nc)
			ts.wg.Add(1)
			ts.mu.Unlock()

			go func() {
				defer ts.wg.Done()
				serve(nc)
			}()
		}
	}()

	t.Cleanup(func() {
		_ = l.Close()
		ts.mu.Lock()
		for _, c := range ts.conns {
			_ = c.Close()
		}
		ts.mu.Unlock()
		if !waitGroupWithTimeout(&ts.wg, 2*time.Second) {
			t.Log("test server connections did not finish in time")
		}
	})

	return l.Addr().String()
}

// startEchoServer replies to every framed message with its own body until
// the peer goes away.
func startEchoServer(t *testing.T) string {
	t.Helper()

	return startTestServer(t, func(nc net.Conn) {
		c := sockframe.NewConn(nc, sockframe.NoTimeout)
		defer c.Close()
		for {
			msg, err := c.Receive()
			if err != nil {
				return
			}
			if err := c.Reply(msg.Body); err != nil {
				return
			}
		}
	})
}

// startSilentServer accepts connections and never writes to them.
func startSilentServer(t *testing.T) string {
	t.Helper()

	return startTestServer(t, func(nc net.Conn) {
		buf := make([]byte, 1024)
		for {
			if _, err := nc.Read(buf); err != nil {
				return
			}
		}
	})
}

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		nc, err := l.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- nc
	}()

	client, err = net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)

	server, ok := <-accepted
	require.True(t, ok, "accept failed")

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	return client, server
}
