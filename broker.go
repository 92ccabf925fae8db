package sockframe

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrQuit indicates the broker is shutting down normally.
	ErrQuit = errors.New("broker is quiting")

	// ErrClosingBroker indicates the broker is in the process of closing.
	ErrClosingBroker = errors.New("broker is closing")

	// ErrNoPoolsAvailable indicates no connection pools are available.
	ErrNoPoolsAvailable = errors.New("no connection pools available")

	// ErrQueueFull indicates the request queue has no free slot.
	ErrQueueFull = errors.New("broker queue is full")
)

// BrokerConfig contains configuration options for a broker.
type BrokerConfig struct {
	// QueueSize is the size of the request queue. Default is 1000.
	QueueSize int
	// CloseTimeout bounds the wait for workers in Close. Default is 5s.
	CloseTimeout time.Duration
}

// DefaultBrokerConfig returns the default broker configuration.
func DefaultBrokerConfig() *BrokerConfig {
	return &BrokerConfig{
		QueueSize:    1000,
		CloseTimeout: 5 * time.Second,
	}
}

// Broker dispatches request/response exchanges over pooled connections.
// Each exchange holds its connection exclusively, one message each way.
type Broker interface {
	Send([]byte) (*Message, error)
	SendContext(context.Context, []byte) (*Message, error)
	Start() error
	Close()
}

// broker implements the Broker interface.
type broker struct {
	mu           sync.Mutex
	workers      int
	compool      []Pool
	requestQueue chan *Task
	//nolint:containedctx // Broker lifetime context shared by workers.
	ctx     context.Context
	cancel  context.CancelFunc
	logger  Logger
	rng     *rand.Rand
	wg      sync.WaitGroup
	closing atomic.Bool
	config  *BrokerConfig
}

// NewBroker creates a new message broker with n workers.
func NewBroker(p []Pool, n int, l Logger, config *BrokerConfig) Broker {
	if l == nil {
		l = &NoopLogger{}
	}
	if config == nil {
		config = DefaultBrokerConfig()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultBrokerConfig().QueueSize
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = DefaultBrokerConfig().CloseTimeout
	}
	if n <= 0 {
		n = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &broker{
		workers:      n,
		compool:      p,
		requestQueue: make(chan *Task, config.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
		logger:       l,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		config:       config,
	}
}

// Start launches worker goroutines and blocks until they exit.
func (b *broker) Start() error {
	eg := &errgroup.Group{}
	b.logger.Infof("Broker starting with %d workers...", b.workers)

	for i := 0; i < b.workers; i++ {
		workerID := i
		b.wg.Add(1)
		eg.Go(func() error {
			defer b.wg.Done()
			return b.loop(workerID)
		})
	}

	err := eg.Wait()
	if err != nil && !errors.Is(err, ErrQuit) {
		b.logger.Errorf("Broker stopped with error: %v", err)
		return err
	}
	b.logger.Infof("Broker stopped gracefully.")

	return nil
}

// Send sends a request and waits for the response.
func (b *broker) Send(req []byte) (*Message, error) {
	return b.SendContext(context.Background(), req)
}

// SendContext sends a request with context support.
func (b *broker) SendContext(ctx context.Context, req []byte) (*Message, error) {
	task := newTask(ctx, req)

	b.mu.Lock()
	if b.closing.Load() {
		b.mu.Unlock()
		return nil, ErrClosingBroker
	}

	select {
	case b.requestQueue <- task:
		b.mu.Unlock()
	case <-ctx.Done():
		b.mu.Unlock()
		return nil, ctx.Err()
	default:
		b.mu.Unlock()
		return nil, ErrQueueFull
	}

	select {
	case resp := <-task.response:
		return resp, nil
	case err := <-task.errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.ctx.Done():
		return nil, ErrClosingBroker
	}
}

// Close shuts down the broker and associated pools.
func (b *broker) Close() {
	b.mu.Lock()
	if b.closing.Load() {
		b.mu.Unlock()
		return
	}
	b.closing.Store(true)
	b.cancel()
	close(b.requestQueue)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(b.config.CloseTimeout):
		b.logger.Warnf("Timeout waiting for workers to finish, forcing close.")
	}

	for task := range b.requestQueue {
		task.fail(ErrClosingBroker)
	}

	for _, p := range b.compool {
		p.Close()
	}

	b.logger.Print("Broker closed.")
}

// Internal methods.

func (b *broker) loop(workerID int) error {
	for {
		select {
		case <-b.ctx.Done():
			return ErrQuit
		case task, ok := <-b.requestQueue:
			if !ok {
				return ErrQuit
			}
			if b.closing.Load() {
				task.fail(ErrClosingBroker)
				continue
			}
			b.process(workerID, task)
		}
	}
}

func (b *broker) process(workerID int, task *Task) {
	if err := task.ctx.Err(); err != nil {
		task.fail(err)
		return
	}

	p := b.pickConnPool()
	if p == nil {
		task.fail(ErrNoPoolsAvailable)
		return
	}

	c, err := p.GetWithContext(task.ctx)
	if err != nil {
		task.fail(fmt.Errorf("failed to get connection: %w", err))
		return
	}

	msg, err := b.exchange(task, c)
	if err != nil {
		b.logger.Warnf("worker %d: task %d on connection %d failed: %v", workerID, task.id, c.ID(), err)
		p.Release(c)
		task.fail(err)
		return
	}

	p.Put(c)
	task.succeed(msg)
}

// exchange sends the request and reads one reply. Cancelling the task or
// closing the broker closes the connection to abort blocked I/O.
func (b *broker) exchange(task *Task, c *Conn) (*Message, error) {
	abort := func() { _ = c.Close() }
	stopTask := context.AfterFunc(task.ctx, abort)
	defer stopTask()
	stopBroker := context.AfterFunc(b.ctx, abort)
	defer stopBroker()

	if err := c.Reply(task.request); err != nil {
		if ctxErr := task.ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("writing to connection: %w", err)
	}

	msg, err := c.Receive()
	if err != nil {
		if ctxErr := task.ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("reading from connection: %w", err)
	}

	return msg, nil
}

func (b *broker) pickConnPool() Pool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.compool) == 0 {
		return nil
	}

	return b.compool[b.rng.Intn(len(b.compool))]
}
