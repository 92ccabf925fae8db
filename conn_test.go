package sockframe_test

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/andrei-cloud/sockframe"
	"github.com/stretchr/testify/require"
)

func TestConnRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 100, sockframe.ChunkSize - 1, sockframe.ChunkSize, sockframe.ChunkSize + 1, 100000}

	for _, size := range sizes {
		payload := bytes.Repeat([]byte{'x'}, size)

		a, b := net.Pipe()
		sender := sockframe.NewConn(a, 2*time.Second)
		receiver := sockframe.NewConn(b, 2*time.Second)

		errCh := make(chan error, 1)
		go func() {
			errCh <- sender.Reply(payload)
		}()

		msg, err := receiver.Receive()
		require.NoError(t, err, "size %d", size)
		require.NoError(t, <-errCh, "size %d", size)
		require.Equal(t, int64(size), msg.TotalLength)
		require.Equal(t, size, len(msg.Body))
		require.True(t, bytes.Equal(payload, msg.Body), "size %d", size)

		require.NoError(t, sender.Close())
		require.NoError(t, receiver.Close())
	}
}

func TestConnReplyWireFormat(t *testing.T) {
	a, b := net.Pipe()
	c := sockframe.NewConn(a, time.Second)

	go func() {
		_ = c.ReplyString("HELLO")
		_ = c.Close()
	}()

	raw, err := io.ReadAll(b)
	require.NoError(t, err)
	require.Equal(t, `{"length":5}`+sockframe.HeaderSeparator+"HELLO", string(raw))
}

func TestConnReceiveLiteral(t *testing.T) {
	client, server := tcpPair(t)
	c := sockframe.NewConn(server, time.Second)

	_, err := client.Write([]byte(`{"length":5}` + sockframe.HeaderSeparator + "HELLO"))
	require.NoError(t, err)

	msg, err := c.Receive()
	require.NoError(t, err)
	require.Equal(t, "HELLO", msg.String())
	require.Equal(t, client.LocalAddr().String(), msg.RemoteAddr.String())
}

func TestConnSplitDelivery(t *testing.T) {
	client, server := tcpPair(t)
	c := sockframe.NewConn(server, 2*time.Second)

	wire, err := sockframe.EncodeMessage(nil, []byte("split across many writes"))
	require.NoError(t, err)

	go func() {
		for i := range wire {
			if _, err := client.Write(wire[i : i+1]); err != nil {
				return
			}
			if i%8 == 0 {
				time.Sleep(time.Millisecond)
			}
		}
	}()

	msg, err := c.Receive()
	require.NoError(t, err)
	require.Equal(t, "split across many writes", msg.String())
}

func TestConnPipelinedMessages(t *testing.T) {
	client, server := tcpPair(t)
	c := sockframe.NewConn(server, time.Second)

	first, err := sockframe.EncodeMessage(nil, []byte("first"))
	require.NoError(t, err)
	second, err := sockframe.EncodeMessage(nil, []byte("second"))
	require.NoError(t, err)

	_, err = client.Write(append(first, second...))
	require.NoError(t, err)

	msg, err := c.Receive()
	require.NoError(t, err)
	require.Equal(t, "first", msg.String())

	msg, err = c.Receive()
	require.NoError(t, err)
	require.Equal(t, "second", msg.String())
}

func TestConnReceiveTimeout(t *testing.T) {
	_, server := tcpPair(t)
	c := sockframe.NewConn(server, 100*time.Millisecond)

	start := time.Now()
	_, err := c.Receive()
	elapsed := time.Since(start)

	require.ErrorIs(t, err, sockframe.ErrTimeout)
	require.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
	require.Less(t, elapsed, 150*time.Millisecond)
}

func TestConnReceivePartialThenStall(t *testing.T) {
	client, server := tcpPair(t)
	c := sockframe.NewConn(server, 100*time.Millisecond)

	_, err := client.Write([]byte(`{"length":10}` + sockframe.HeaderSeparator + "abc"))
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Receive()
	elapsed := time.Since(start)

	require.ErrorIs(t, err, sockframe.ErrTimeout)
	require.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
	require.Less(t, elapsed, 150*time.Millisecond)
}

func TestConnTimeoutConcurrentUpdate(t *testing.T) {
	_, server := tcpPair(t)
	c := sockframe.NewConn(server, time.Second)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			c.SetTimeout(time.Duration(i+1) * time.Millisecond)
		}
	}()
	for i := 0; i < 100; i++ {
		require.NoError(t, c.ApplyTimeout())
	}
	<-done

	require.Equal(t, 100*time.Millisecond, c.Timeout())
}

func TestConnNoTimeout(t *testing.T) {
	client, server := tcpPair(t)
	c := sockframe.NewConn(server, sockframe.NoTimeout)

	go func() {
		time.Sleep(150 * time.Millisecond)
		_, _ = client.Write([]byte(`{"length":2}` + sockframe.HeaderSeparator + "ok"))
	}()

	msg, err := c.Receive()
	require.NoError(t, err)
	require.Equal(t, "ok", msg.String())
}

func TestConnIncomplete(t *testing.T) {
	client, server := tcpPair(t)
	c := sockframe.NewConn(server, time.Second)

	_, err := client.Write([]byte(`{"length":10}` + sockframe.HeaderSeparator + "abc"))
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = c.Receive()
	require.ErrorIs(t, err, sockframe.ErrIncompleteMessage)
	require.ErrorIs(t, err, io.EOF)
}

func TestConnMalformed(t *testing.T) {
	client, server := tcpPair(t)
	c := sockframe.NewConn(server, time.Second)

	_, err := client.Write([]byte("garbage" + sockframe.HeaderSeparator + "body"))
	require.NoError(t, err)

	_, err = c.Receive()
	require.ErrorIs(t, err, sockframe.ErrMalformedHeader)
}

func TestConnReplyHeader(t *testing.T) {
	a, b := net.Pipe()
	sender := sockframe.NewConn(a, time.Second)
	receiver := sockframe.NewConn(b, time.Second)
	defer sender.Close()
	defer receiver.Close()

	go func() {
		_ = sender.ReplyHeader(sockframe.Header{"id": "req-7", sockframe.HeaderLength: 999}, []byte("abc"))
	}()

	msg, err := receiver.Receive()
	require.NoError(t, err)
	require.Equal(t, "req-7", msg.Header["id"])
	require.Equal(t, int64(3), msg.TotalLength)
	require.Equal(t, "abc", msg.String())
}

func TestConnClose(t *testing.T) {
	_, server := tcpPair(t)
	c := sockframe.NewConn(server, time.Second)
	require.Equal(t, sockframe.StateOpen, c.State())
	require.False(t, c.IsClosed())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.True(t, c.IsClosed())
	require.Equal(t, sockframe.StateClosed, c.State())

	_, err := c.Receive()
	require.ErrorIs(t, err, sockframe.ErrConnClosed)
	require.ErrorIs(t, c.ReplyString("x"), sockframe.ErrConnClosed)
}

func TestConnCloseAbortsReceive(t *testing.T) {
	_, server := tcpPair(t)
	c := sockframe.NewConn(server, sockframe.NoTimeout)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Receive()
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, sockframe.ErrConnClosed)
	case <-time.After(time.Second):
		t.Fatal("Receive did not return after Close")
	}
}

func TestConnAccessors(t *testing.T) {
	client, server := tcpPair(t)
	c := sockframe.NewConn(server, 3*time.Second)
	other := sockframe.NewConn(client, time.Second)

	require.NotEqual(t, c.ID(), other.ID())
	require.Equal(t, 3*time.Second, c.Timeout())
	require.Equal(t, "127.0.0.1", c.RemoteHost())
	require.Equal(t, server, c.NetConn())
	require.Equal(t, server.LocalAddr(), c.LocalAddr())
	require.Contains(t, c.String(), "open")

	c.SetTimeout(time.Second)
	require.Equal(t, time.Second, c.Timeout())
	require.NoError(t, c.ApplyTimeout())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "new", sockframe.StateNew.String())
	require.Equal(t, "open", sockframe.StateOpen.String())
	require.Equal(t, "closed", sockframe.StateClosed.String())
	require.Equal(t, "unknown", sockframe.State(42).String())
}
