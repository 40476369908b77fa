package drone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func permutations(s []string) [][]string {
	if len(s) <= 1 {
		return [][]string{append([]string(nil), s...)}
	}

	var res [][]string
	for i := range s {
		rest := make([]string, 0, len(s)-1)
		rest = append(rest, s[:i]...)
		rest = append(rest, s[i+1:]...)

		for _, p := range permutations(rest) {
			res = append(res, append([]string{s[i]}, p...))
		}
	}

	return res
}

func TestBarrierAnyOrder(t *testing.T) {
	orders := permutations(startupWorkers)
	assert.Len(t, orders, 6)

	for _, order := range orders {
		b := newReadinessBarrier()
		assert.Equal(t, StateStarted, b.State())

		assert.Equal(t, StateOneWorkerReady, b.workerReady(order[0]), order)
		assert.Equal(t, StateTwoWorkersReady, b.workerReady(order[1]), order)
		assert.Equal(t, StateAllWorkersReady, b.workerReady(order[2]), order)
		assert.Equal(t, StateReady, b.workerReady(workerVideo), order)
	}
}

func TestBarrierIgnoresDuplicates(t *testing.T) {
	b := newReadinessBarrier()

	b.workerReady(workerTelemetry)
	b.workerReady(workerTelemetry)
	b.workerReady(workerTelemetry)

	assert.Equal(t, StateOneWorkerReady, b.State())

	b.workerReady(workerCommand)
	b.workerReady(workerConfig)
	b.workerReady(workerConfig)

	assert.Equal(t, StateAllWorkersReady, b.State())
}

func TestBarrierVideoNeedsWorkers(t *testing.T) {
	b := newReadinessBarrier()

	b.workerReady(workerCommand)
	assert.Equal(t, StateOneWorkerReady, b.workerReady(workerVideo))
}

func TestBarrierBroadcasts(t *testing.T) {
	b := newReadinessBarrier()
	ch := b.changed.C()

	b.workerReady(workerConfig)

	select {
	case <-ch:
	default:
		t.Fatal("no change notification")
	}

	assert.True(t, b.reached(StateOneWorkerReady)())
	assert.False(t, b.reached(StateTwoWorkersReady)())
}

func TestControllerStateString(t *testing.T) {
	assert.Equal(t, "ALL_WORKERS_READY", StateAllWorkersReady.String())
	assert.Equal(t, "READY", StateReady.String())
	assert.Equal(t, "not ready", NotReady.String())
}
