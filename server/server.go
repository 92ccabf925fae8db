package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andrei-cloud/sockframe"
)

var (
	// ErrBind indicates the listening socket could not be bound.
	ErrBind = errors.New("bind failed")
	// ErrAccept indicates the accept loop ended on an unexpected error.
	ErrAccept = errors.New("accept failed")
	// ErrAlreadyRunning indicates Start was called while the accept loop is alive.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrNotRunning indicates Stop was called with no accept loop to stop.
	ErrNotRunning = errors.New("server not running")
	// ErrWaitTimeout indicates a bounded wait for a server state elapsed.
	ErrWaitTimeout = errors.New("timed out waiting for server state")
)

// Server accepts TCP connections and runs a Handler for each admitted one.
type Server struct {
	address   string        // network address to listen on.
	config    *ServerConfig // server configuration options.
	handler   Handler       // handler invoked once per connection.
	admission *admission    // registry of active connections.
	ownPool   *BoundedPool  // pool created by the server, nil when external.
	tracker   *Tracker      // optional leak tracker.
	events    *eventRing    // recent connection events.
	connWG    sync.WaitGroup

	listen func(network, address string) (net.Listener, error)

	mu             sync.Mutex
	listener       net.Listener  // open while an accept loop owns it.
	stopCh         chan struct{} // closed by Stop for the current loop.
	started        chan struct{} // closed once the current loop is accepting.
	loopDone       chan struct{} // closed when the current loop has exited.
	trackerStarted bool
	shutdown       bool
}

func NewServer(address string, handler Handler, config *ServerConfig) (*Server, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if config == nil {
		config = &ServerConfig{}
	}
	config.applyDefaults()

	s := &Server{
		address: address,
		config:  config,
		handler: handler,
		events:  newEventRing(config.EventHistory),
		listen:  net.Listen,
	}

	pool := config.Pool
	if pool == nil {
		s.ownPool = NewBoundedPool(config.PoolSize)
		pool = s.ownPool
	}
	s.admission = newAdmission(config.MaxConns, s.register, pool, s.serveConn, config.Metrics)

	if config.LeakThreshold > 0 {
		s.tracker = newTracker(config.LeakThreshold, s.admission.snapshot, config.Logger, config.Metrics)
	}

	return s, nil
}

// Start binds the listener if needed and launches the accept loop. A bind
// failure is returned wrapping ErrBind.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return ErrNotRunning
	}
	if s.aliveLocked() {
		return ErrAlreadyRunning
	}

	if s.listener == nil {
		ln, err := s.listen("tcp", s.address)
		if err != nil {
			s.config.Logger.Errorf("bind %s: %v", s.address, err)
			return fmt.Errorf("%w: %s: %w", ErrBind, s.address, err)
		}
		s.listener = ln
	}

	s.stopCh = make(chan struct{})
	s.started = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.acceptLoop(s.listener, s.stopCh, s.started, s.loopDone)

	if s.tracker != nil && !s.trackerStarted {
		s.trackerStarted = true
		go s.tracker.run()
	}

	return nil
}

// Stop signals the accept loop to exit and closes the listener. Active
// connections are left to their handlers; see Shutdown.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.aliveLocked() || closed(s.stopCh) {
		s.mu.Unlock()
		return ErrNotRunning
	}
	close(s.stopCh)
	ln := s.listener
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.config.Logger.Warnf("listener close error: %v", err)
		return fmt.Errorf("close listener: %w", err)
	}

	return nil
}

// StartAfterStop waits up to timeout for a previous accept loop to exit,
// then starts the server.
func (s *Server) StartAfterStop(timeout time.Duration) error {
	s.mu.Lock()
	done := s.loopDone
	alive := s.aliveLocked()
	s.mu.Unlock()

	if alive {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-done:
		case <-timer.C:
			return ErrWaitTimeout
		}
	}

	return s.Start()
}

// StartAndWait starts the server like StartAfterStop and waits until the
// accept loop is running. The timeout covers both waits.
func (s *Server) StartAndWait(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if err := s.StartAfterStop(timeout); err != nil {
		return err
	}

	s.mu.Lock()
	started, done := s.started, s.loopDone
	s.mu.Unlock()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-started:
		return nil
	case <-done:
		return ErrNotRunning
	case <-timer.C:
		return ErrWaitTimeout
	}
}

// Shutdown stops accepting, closes every active connection and waits for
// their handlers to return. The server cannot be restarted afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}

	if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		s.config.Logger.Warnf("shutdown: %v", err)
	}

	s.mu.Lock()
	s.shutdown = true
	done := s.loopDone
	trackerStarted := s.trackerStarted
	s.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.admission.forEach(func(info ConnInfo) {
		if err := info.Conn.Close(); err != nil {
			s.config.Logger.Warnf("connection %d close error: %v", info.Conn.ID(), err)
		}
	})

	drained := make(chan struct{})
	go func() {
		s.connWG.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		s.config.Logger.Warnf("timeout waiting for connections to close")
		return ctx.Err()
	}

	if trackerStarted {
		s.tracker.Stop()
	}
	if s.ownPool != nil {
		s.ownPool.Close()
	}

	return nil
}

// IsAlive reports whether an accept loop is running or still exiting.
func (s *Server) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aliveLocked()
}

func (s *Server) aliveLocked() bool {
	return s.loopDone != nil && !closed(s.loopDone)
}

// Addr returns the bound listener address, or nil when not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConns returns the number of registered connections.
func (s *Server) ActiveConns() int {
	return s.admission.count()
}

// ConnectionsByAddr returns the number of registered connections from host.
func (s *Server) ConnectionsByAddr(host string) int {
	return s.admission.countByHost(host)
}

// Connections returns a snapshot of the registered connections.
func (s *Server) Connections() []ConnInfo {
	return s.admission.snapshot()
}

// ForEachConn calls fn for a snapshot of the registered connections.
func (s *Server) ForEachConn(fn func(ConnInfo)) {
	s.admission.forEach(fn)
}

// RecentEvents returns the retained connection events, oldest first.
func (s *Server) RecentEvents() []Event {
	return s.events.snapshot()
}

// Tracker returns the leak tracker, or nil when LeakThreshold is zero.
func (s *Server) Tracker() *Tracker {
	return s.tracker
}

func (s *Server) acceptLoop(ln net.Listener, stop, started, done chan struct{}) {
	defer func() {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.config.Logger.Warnf("listener close error: %v", err)
		}
		s.mu.Lock()
		if s.listener == ln {
			s.listener = nil
		}
		s.mu.Unlock()

		s.config.Lifecycle.OnServerStopped()
		close(done)
	}()

	s.config.Lifecycle.OnServerStarted()
	close(started)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if closed(stop) || errors.Is(err, net.ErrClosed) {
				return
			}
			s.config.Logger.Errorf("accept error: %v", err)
			s.config.Lifecycle.OnInternalError(fmt.Errorf("%w: %w", ErrAccept, err))

			return
		}

		if closed(stop) {
			if err := conn.Close(); err != nil {
				s.config.Logger.Warnf("connection close error: %v", err)
			}
			return
		}

		s.dispatch(conn)
	}
}

// dispatch admits conn or closes it when the server is at capacity.
func (s *Server) dispatch(conn net.Conn) {
	c, ok, err := s.admission.tryAdmit(conn)
	if err != nil {
		s.config.Logger.Errorf("dispatch error: %v", err)
		s.events.push(Event{Kind: EventRejected, ConnID: c.ID(), Remote: remote(conn), Err: err.Error()})
		s.connWG.Done()
		if cerr := c.Close(); cerr != nil {
			s.config.Logger.Warnf("connection close error: %v", cerr)
		}
		return
	}

	if !ok {
		s.config.Logger.Warnf("rejecting %v: %v", conn.RemoteAddr(), ErrCapacityExceeded)
		s.events.push(Event{Kind: EventRejected, Remote: remote(conn), Err: ErrCapacityExceeded.Error()})
		if err := conn.Close(); err != nil {
			s.config.Logger.Warnf("connection close error: %v", err)
		}
	}
}

// register wraps an admitted socket. It runs under the admission lock.
func (s *Server) register(raw net.Conn) *sockframe.Conn {
	s.connWG.Add(1)
	c := sockframe.NewConn(raw, s.config.Timeout, sockframe.WithHeaderCodec(s.config.HeaderCodec))
	s.events.push(Event{Kind: EventAdmitted, ConnID: c.ID(), Remote: remote(raw)})

	return c
}

// serveConn is the worker task for one connection.
func (s *Server) serveConn(c *sockframe.Conn) {
	defer s.connWG.Done()
	defer s.admission.release(c)
	defer func() {
		if r := recover(); r != nil {
			s.config.Metrics.handlerFailed()
			s.config.Logger.Errorf("handler panic on connection %d: %v", c.ID(), r)
			s.events.push(Event{Kind: EventHandlerFailed, ConnID: c.ID(), Remote: remote(c.NetConn()), Err: fmt.Sprint(r)})
		}

		if !c.IsClosed() {
			s.config.Metrics.forceClosed()
			s.config.Logger.Warnf("connection %d: handler returned without closing the connection", c.ID())
			s.events.push(Event{Kind: EventForceClosed, ConnID: c.ID(), Remote: remote(c.NetConn())})
			if err := c.Close(); err != nil {
				s.config.Logger.Warnf("connection %d close error: %v", c.ID(), err)
			}
			return
		}

		s.events.push(Event{Kind: EventClosed, ConnID: c.ID(), Remote: remote(c.NetConn())})
	}()

	s.initConn(c)

	if err := s.handler.Handle(c); err != nil {
		s.config.Metrics.handlerFailed()
		s.config.Logger.Warnf("handler error on connection %d: %v", c.ID(), err)
		s.events.push(Event{Kind: EventHandlerFailed, ConnID: c.ID(), Remote: remote(c.NetConn()), Err: err.Error()})
	}
}

func remote(nc net.Conn) string {
	if nc == nil || nc.RemoteAddr() == nil {
		return ""
	}
	return nc.RemoteAddr().String()
}

func closed(ch chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
