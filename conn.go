package sockframe

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ErrConnClosed indicates an operation on a closed connection.
var ErrConnClosed = errors.New("connection closed")

// State is the lifecycle position of a Conn.
type State int32

const (
	StateNew State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// nextConnID is the global counter for connection identities.
var nextConnID atomic.Uint64

// Conn exchanges framed messages over one byte-stream socket.
// Receive and Reply are serialized; Close may be called at any time
// and aborts a blocked Receive or Reply.
type Conn struct {
	id      uint64
	conn    net.Conn
	timeout atomic.Int64 // time.Duration
	codec   HeaderCodec
	state   atomic.Int32

	ioMu   sync.Mutex // serializes Receive and Reply.
	reader *frameReader

	closeOnce sync.Once
	closeErr  error
}

// ConnOption customizes a Conn.
type ConnOption func(*Conn)

// WithHeaderCodec replaces the JSON header codec.
func WithHeaderCodec(codec HeaderCodec) ConnOption {
	return func(c *Conn) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// NewConn wraps an already connected socket. A timeout of zero or
// NoTimeout disables deadlines.
func NewConn(nc net.Conn, timeout time.Duration, opts ...ConnOption) *Conn {
	c := newConn(timeout, opts...)
	c.attach(nc)

	return c
}

func newConn(timeout time.Duration, opts ...ConnOption) *Conn {
	c := &Conn{
		id:    nextConnID.Add(1),
		codec: DefaultHeaderCodec,
	}
	c.timeout.Store(int64(timeout))
	for _, opt := range opts {
		opt(c)
	}
	c.state.Store(int32(StateNew))

	return c
}

func (c *Conn) attach(nc net.Conn) {
	c.conn = nc
	c.reader = &frameReader{r: nc, codec: c.codec, arm: c.armRead}
	c.state.Store(int32(StateOpen))
}

// ID returns the process-unique connection identity.
func (c *Conn) ID() uint64 { return c.id }

// NetConn returns the underlying socket.
func (c *Conn) NetConn() net.Conn { return c.conn }

// Timeout returns the configured per-operation timeout.
func (c *Conn) Timeout() time.Duration { return time.Duration(c.timeout.Load()) }

// SetTimeout changes the timeout used by subsequent operations. It may be
// called concurrently with any other method.
func (c *Conn) SetTimeout(d time.Duration) {
	c.timeout.Store(int64(d))
}

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool { return c.State() == StateClosed }

// RemoteAddr returns the peer address, or nil before connect.
func (c *Conn) RemoteAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local address, or nil before connect.
func (c *Conn) LocalAddr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

// RemoteHost returns the host part of the peer address.
func (c *Conn) RemoteHost() string {
	addr := c.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// ApplyTimeout sets the socket deadline from the configured timeout.
// It is a no-op when no timeout is configured.
func (c *Conn) ApplyTimeout() error {
	d := c.Timeout()
	if d <= 0 || c.conn == nil {
		return nil
	}
	return c.conn.SetDeadline(time.Now().Add(d))
}

// deadline returns the instant bounding one operation, zero for none.
func (c *Conn) deadline() time.Time {
	d := c.Timeout()
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

func (c *Conn) armRead(deadline time.Time) error {
	if deadline.IsZero() {
		return nil
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return c.wrapIOErr("set read deadline", err)
	}
	return nil
}

func (c *Conn) armWrite(deadline time.Time) error {
	if deadline.IsZero() {
		return nil
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return c.wrapIOErr("set write deadline", err)
	}
	return nil
}

func (c *Conn) checkOpen() error {
	switch c.State() {
	case StateOpen:
		return nil
	case StateNew:
		return fmt.Errorf("connection %d is not connected", c.id)
	default:
		return ErrConnClosed
	}
}

func (c *Conn) wrapIOErr(op string, err error) error {
	if errors.Is(err, net.ErrClosed) || c.IsClosed() {
		return fmt.Errorf("%s: %w", op, ErrConnClosed)
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Receive reads the next complete message.
func (c *Conn) Receive() (*Message, error) {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	msg, err := c.reader.readMessage(c.deadline())
	if err != nil {
		if errors.Is(err, net.ErrClosed) || (c.IsClosed() && !errors.Is(err, ErrMalformedHeader)) {
			return nil, fmt.Errorf("receive: %w", ErrConnClosed)
		}
		return nil, err
	}
	msg.RemoteAddr = c.RemoteAddr()

	return msg, nil
}

// Reply sends payload as one message. A nil payload is sent as an empty body.
func (c *Conn) Reply(payload []byte) error {
	return c.ReplyHeader(nil, payload)
}

// ReplyString sends s as one message.
func (c *Conn) ReplyString(s string) error {
	return c.ReplyHeader(nil, []byte(s))
}

// ReplyHeader sends payload with additional header keys.
func (c *Conn) ReplyHeader(extra Header, payload []byte) error {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	if err := c.checkOpen(); err != nil {
		return err
	}

	deadline := c.deadline()
	pre, err := encodePreamble(c.codec, extra, len(payload))
	if err != nil {
		return err
	}

	if err := c.write(pre, deadline); err != nil {
		return err
	}

	for off := 0; ; {
		end := off + ChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		if off < end {
			if err := c.write(payload[off:end], deadline); err != nil {
				return err
			}
		}
		off = end

		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("%w: reply exceeded deadline after %d of %d bytes", ErrTimeout, off, len(payload))
		}
		if off >= len(payload) {
			return nil
		}
	}
}

func (c *Conn) write(b []byte, deadline time.Time) error {
	if err := c.armWrite(deadline); err != nil {
		return err
	}
	if _, err := c.conn.Write(b); err != nil {
		return c.wrapIOErr("write", err)
	}
	return nil
}

// Close closes the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		prev := State(c.state.Swap(int32(StateClosed)))
		if prev == StateNew || c.conn == nil {
			return
		}
		c.closeErr = c.conn.Close()
	})

	return c.closeErr
}

func (c *Conn) String() string {
	return fmt.Sprintf("conn#%d(%v, %s)", c.id, c.RemoteAddr(), c.State())
}
