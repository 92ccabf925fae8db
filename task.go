package sockframe

import (
	"context"
	"sync/atomic"
)

// nextTaskID is the global atomic counter for assigning task IDs.
var nextTaskID atomic.Uint64

// Task represents a single request/response exchange managed by the broker.
// A task owns one pooled connection for the duration of its exchange.
type Task struct {
	//nolint:containedctx // Necessary for task cancellation within broker queue.
	ctx      context.Context // Context for cancellation and timeouts
	id       uint64          // identifier used in log lines
	request  []byte          // Request payload to be sent
	response chan *Message   // Channel for receiving the response
	errCh    chan error      // Channel for receiving errors
}

func newTask(ctx context.Context, req []byte) *Task {
	return &Task{
		ctx:      ctx,
		id:       nextTaskID.Add(1),
		request:  req,
		response: make(chan *Message, 1),
		errCh:    make(chan error, 1),
	}
}

// ID returns the task identifier.
func (t *Task) ID() uint64 {
	return t.id
}

// Context returns the task's context, which can be used for cancellation
// and timeout control. The context is typically created with a timeout
// when using SendContext.
func (t *Task) Context() context.Context {
	return t.ctx
}

// fail delivers err without blocking; a second error is dropped.
func (t *Task) fail(err error) {
	select {
	case t.errCh <- err:
	default:
	}
}

// succeed delivers msg without blocking; a second reply is dropped.
func (t *Task) succeed(msg *Message) {
	select {
	case t.response <- msg:
	default:
	}
}
