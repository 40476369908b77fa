package drone

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronecontrol/pkg/protocol"
)

// navdataPeer answers every trigger with the given packets.
func navdataPeer(t *testing.T, packets ...[]byte) int {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		buf := make([]byte, 64)
		for {
			_, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			for _, p := range packets {
				_, _ = conn.WriteToUDP(p, addr)
			}
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestTelemetryReceiver(t *testing.T) {
	demo := &protocol.NavData{
		State:    protocol.StateFlying | protocol.StateCommandAck | protocol.StateNavDataDemo,
		Sequence: 7,
		Demo: &protocol.NavDataDemo{
			Battery:  55,
			Theta:    1500,
			Phi:      -2000,
			Psi:      90000,
			Altitude: 1250,
		},
	}

	cfg := testConfig()
	cfg.NavDataPort = navdataPeer(t, []byte("garbage"), demo.Marshal())

	r := NewTelemetryReceiver(cfg)

	ready := make(chan ReadyState, 2)
	r.AddReadyStateListener(func(s ReadyState) { ready <- s })

	states := make(chan TelemetryState, 1)
	r.AddTelemetryListener(func(s TelemetryState) {
		select {
		case states <- s:
		default:
		}
	})

	changed := r.Changed()

	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)

	select {
	case s := <-ready:
		assert.Equal(t, Ready, s)
	case <-time.After(time.Second):
		t.Fatal("telemetry never ready")
	}

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("no change notification")
	}

	s := <-states
	assert.True(t, s.Flying)
	assert.True(t, s.ControlReceived)
	assert.True(t, s.Demo)
	assert.False(t, s.Emergency)
	assert.Equal(t, 55, s.BatteryLevel)
	assert.InDelta(t, 1.25, s.Altitude, 1e-9)
	assert.InDelta(t, 1.5, s.Pitch, 1e-9)
	assert.InDelta(t, -2.0, s.Roll, 1e-9)
	assert.InDelta(t, 90.0, s.Yaw, 1e-9)

	latest, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, uint32(7), latest.Sequence)
	assert.True(t, r.ControlReceived())
}

func TestTelemetryBootstrapPacket(t *testing.T) {
	n := &protocol.NavData{State: protocol.StateEmergency | protocol.StateBatteryLow, Sequence: 1}
	s := newTelemetryState(n, time.Now())

	assert.True(t, s.Emergency)
	assert.True(t, s.BatteryTooLow)
	assert.False(t, s.ControlReceived)
	assert.Zero(t, s.BatteryLevel)
}

func TestTelemetryBeforeFirstPacket(t *testing.T) {
	r := NewTelemetryReceiver(testConfig())

	_, ok := r.Latest()
	assert.False(t, ok)
	assert.False(t, r.ControlReceived())
}
