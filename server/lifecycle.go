package server

// Lifecycle receives server state notifications. Hooks run on the accept
// loop goroutine and should return quickly.
type Lifecycle interface {
	OnServerStarted()
	OnServerStopped()
	OnInternalError(err error)
}

// LifecycleFuncs adapts optional functions to Lifecycle. Nil fields are skipped.
type LifecycleFuncs struct {
	Started       func()
	Stopped       func()
	InternalError func(err error)
}

func (l LifecycleFuncs) OnServerStarted() {
	if l.Started != nil {
		l.Started()
	}
}

func (l LifecycleFuncs) OnServerStopped() {
	if l.Stopped != nil {
		l.Stopped()
	}
}

func (l LifecycleFuncs) OnInternalError(err error) {
	if l.InternalError != nil {
		l.InternalError(err)
	}
}
