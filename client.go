package sockframe

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Dial connects to addr from an ephemeral local endpoint. The timeout bounds
// the connect itself and becomes the Conn's per-operation timeout.
func Dial(ctx context.Context, addr string, timeout time.Duration, opts ...ConnOption) (*Conn, error) {
	c := newConn(timeout, opts...)

	d := &net.Dialer{}
	if timeout > 0 {
		d.Timeout = timeout
	}

	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: dial %s: %v", ErrTimeout, addr, err)
		}
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if tcpConn, ok := nc.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
	}

	c.attach(nc)

	return c, nil
}

// Client is the context handed to a ClientHandler. The handler may store a
// value with SetReturn for the synchronous Connect to hand back.
type Client struct {
	mu  sync.Mutex
	ret any
}

// SetReturn stores v as the result of the handler.
func (c *Client) SetReturn(v any) {
	c.mu.Lock()
	c.ret = v
	c.mu.Unlock()
}

// Return returns the stored value.
func (c *Client) Return() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ret
}

// Dial opens a connection on behalf of the handler.
func (c *Client) Dial(ctx context.Context, addr string, timeout time.Duration, opts ...ConnOption) (*Conn, error) {
	return Dial(ctx, addr, timeout, opts...)
}

// ClientHandler drives one outbound exchange.
type ClientHandler interface {
	OnConnect(client *Client)
}

// ClientHandlerFunc is an adapter to allow the use of ordinary functions as ClientHandlers.
type ClientHandlerFunc func(client *Client)

// OnConnect calls f with the client.
func (f ClientHandlerFunc) OnConnect(client *Client) {
	f(client)
}

// Connect runs handler on the calling goroutine and returns the value it stored.
func Connect(handler ClientHandler) any {
	client := &Client{}
	handler.OnConnect(client)

	return client.Return()
}

// ConnectAs runs handler like Connect and type-asserts the stored value.
func ConnectAs[T any](handler ClientHandler) (T, bool) {
	v, ok := Connect(handler).(T)
	return v, ok
}

// ConnectAsync runs handler on a new goroutine. The returned channel is
// closed when the handler returns. Any value the handler stores is not
// reachable through this call; callers that need a result must pass it
// out themselves.
func ConnectAsync(handler ClientHandler) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		Connect(handler)
	}()

	return done
}
