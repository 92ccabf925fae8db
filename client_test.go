package sockframe_test

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andrei-cloud/sockframe"
	"github.com/stretchr/testify/require"
)

func TestDial(t *testing.T) {
	addr := startEchoServer(t)

	c, err := sockframe.Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	require.Equal(t, sockframe.StateOpen, c.State())
	require.NotNil(t, c.LocalAddr())

	require.NoError(t, c.ReplyString("ping"))
	msg, err := c.Receive()
	require.NoError(t, err)
	require.Equal(t, "ping", msg.String())

	// The connection stays usable for another exchange.
	require.NoError(t, c.ReplyString("pong"))
	msg, err = c.Receive()
	require.NoError(t, err)
	require.Equal(t, "pong", msg.String())
}

func TestDialRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	c, err := sockframe.Dial(context.Background(), addr, time.Second)
	require.Error(t, err)
	require.Nil(t, c)
}

func TestDialCanceled(t *testing.T) {
	addr := startEchoServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sockframe.Dial(ctx, addr, time.Second)
	require.Error(t, err)
}

func TestConnect(t *testing.T) {
	addr := startEchoServer(t)

	handler := sockframe.ClientHandlerFunc(func(client *sockframe.Client) {
		c, err := client.Dial(context.Background(), addr, time.Second)
		if err != nil {
			client.SetReturn(err)
			return
		}
		defer c.Close()

		if err := c.ReplyString("hello"); err != nil {
			client.SetReturn(err)
			return
		}
		msg, err := c.Receive()
		if err != nil {
			client.SetReturn(err)
			return
		}
		client.SetReturn(msg.String())
	})

	require.Equal(t, "hello", sockframe.Connect(handler))

	s, ok := sockframe.ConnectAs[string](handler)
	require.True(t, ok)
	require.Equal(t, "hello", s)

	_, ok = sockframe.ConnectAs[int](handler)
	require.False(t, ok)
}

func TestConnectWithoutReturn(t *testing.T) {
	handler := sockframe.ClientHandlerFunc(func(*sockframe.Client) {})
	require.Nil(t, sockframe.Connect(handler))
}

func TestConnectAsync(t *testing.T) {
	var ran atomic.Bool
	release := make(chan struct{})

	done := sockframe.ConnectAsync(sockframe.ClientHandlerFunc(func(client *sockframe.Client) {
		<-release
		ran.Store(true)
		client.SetReturn("ignored")
	}))

	select {
	case <-done:
		t.Fatal("ConnectAsync waited for the handler")
	default:
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not finish")
	}
	require.True(t, ran.Load())
}
