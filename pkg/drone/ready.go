package drone

type ReadyState int

const (
	NotReady ReadyState = iota
	Ready
)

func (s ReadyState) String() string {
	if s == Ready {
		return "ready"
	}
	return "not ready"
}

// readyStateComponent is embedded by every worker that reports readiness.
type readyStateComponent struct {
	readyListeners Listeners[ReadyState]
}

func (c *readyStateComponent) AddReadyStateListener(fn func(ReadyState)) (remove func()) {
	return c.readyListeners.Add(fn)
}

func (c *readyStateComponent) emitReadyState(s ReadyState) {
	c.readyListeners.Emit(s)
}
