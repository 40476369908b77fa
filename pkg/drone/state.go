package drone

import (
	"fmt"
	"sync"
)

// ControllerState is the startup progress of a session. Within one session it
// only moves forward.
type ControllerState int

const (
	StateStopped ControllerState = iota
	StateStarted
	StateOneWorkerReady
	StateTwoWorkersReady
	StateAllWorkersReady
	StateReady
)

func (s ControllerState) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateStarted:
		return "STARTED"
	case StateOneWorkerReady:
		return "ONE_WORKER_READY"
	case StateTwoWorkersReady:
		return "TWO_WORKERS_READY"
	case StateAllWorkersReady:
		return "ALL_WORKERS_READY"
	case StateReady:
		return "READY"
	default:
		return fmt.Sprintf("ControllerState(%d)", int(s))
	}
}

// Worker names used as readiness identities.
const (
	workerCommand   = "command"
	workerTelemetry = "telemetry"
	workerConfig    = "config"
	workerVideo     = "video"
)

// startupWorkers must all report READY before login begins.
var startupWorkers = []string{workerCommand, workerConfig, workerTelemetry}

// readinessBarrier counts distinct ready workers. A repeated READY from the
// same worker is ignored, as is NOT_READY: the state never goes backwards.
type readinessBarrier struct {
	mu      sync.Mutex
	state   ControllerState
	ready   map[string]bool
	changed *notifier
}

func newReadinessBarrier() *readinessBarrier {
	return &readinessBarrier{
		state:   StateStarted,
		ready:   make(map[string]bool),
		changed: newNotifier(),
	}
}

// workerReady records a READY signal and returns the resulting state.
func (b *readinessBarrier) workerReady(worker string) ControllerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ready[worker] {
		return b.state
	}
	b.ready[worker] = true

	switch {
	case worker == workerVideo:
		if b.state == StateAllWorkersReady {
			b.state = StateReady
		}
	case b.state < StateAllWorkersReady:
		b.state++
	}

	b.changed.broadcast()

	return b.state
}

func (b *readinessBarrier) State() ControllerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

func (b *readinessBarrier) reached(s ControllerState) func() bool {
	return func() bool {
		return b.State() >= s
	}
}
