package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronecontrol/pkg/drone"
)

type fakeSource struct {
	telemetry drone.Listeners[drone.TelemetryState]
	configs   drone.Listeners[*drone.DroneConfiguration]
}

func (f *fakeSource) AddTelemetryListener(fn func(drone.TelemetryState)) func() {
	return f.telemetry.Add(fn)
}

func (f *fakeSource) AddConfigurationListener(fn func(*drone.DroneConfiguration)) func() {
	return f.configs.Add(fn)
}

func (f *fakeSource) DroneVersion() drone.DroneVersion {
	return drone.ARDrone2
}

func newStore(t *testing.T) *SqliteStore {
	s := NewSqliteStore(filepath.Join(t.TempDir(), "flights.db"))
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestRecorder(t *testing.T) {
	store := newStore(t)
	src := &fakeSource{}

	r := New(store, WithBuffer(100, 10), WithFlushInterval(20*time.Millisecond))
	require.NoError(t, r.Start(context.Background(), src, "127.0.0.1"))

	for i := 0; i < 25; i++ {
		src.telemetry.Emit(drone.TelemetryState{Sequence: uint32(i), BatteryLevel: 80, Received: time.Now()})
	}
	src.configs.Emit(drone.NewDroneConfiguration(map[string]string{"general:num_version_soft": "2.4.8"}))

	r.Stop()

	n, err := store.TelemetryCount(context.Background(), r.SessionID())
	require.NoError(t, err)
	assert.Equal(t, 25, n)
	assert.Zero(t, r.Dropped())

	confs, err := store.Configurations(context.Background(), r.SessionID())
	require.NoError(t, err)
	assert.Equal(t, map[uint64]map[string]string{0: {"general:num_version_soft": "2.4.8"}}, confs)

	// no longer subscribed
	assert.Zero(t, src.telemetry.Len())
}

func TestRecorderDropsWhenFull(t *testing.T) {
	r := New(newStore(t), WithBuffer(1, 10))

	r.onTelemetry(drone.TelemetryState{})
	r.onTelemetry(drone.TelemetryState{})
	r.onTelemetry(drone.TelemetryState{})

	assert.Equal(t, uint64(2), r.Dropped())
}

func TestSessionsAreSeparate(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	a, err := store.CreateSession(ctx, drone.ARDrone1, "a")
	require.NoError(t, err)
	b, err := store.CreateSession(ctx, drone.ARDrone2, "b")
	require.NoError(t, err)

	require.NoError(t, store.StoreTelemetry(ctx, a, []drone.TelemetryState{{Sequence: 1}, {Sequence: 2}}))
	require.NoError(t, store.StoreTelemetry(ctx, b, nil))

	n, err := store.TelemetryCount(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.TelemetryCount(ctx, b)
	require.NoError(t, err)
	assert.Zero(t, n)
}
