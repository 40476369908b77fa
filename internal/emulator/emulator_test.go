package emulator

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronecontrol/pkg/protocol"
)

func startEmulator(t *testing.T) *Emulator {
	e := New(Config{Host: "127.0.0.1", NavDataInterval: 5 * time.Millisecond, VideoInterval: 5 * time.Millisecond})
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(e.Stop)

	return e
}

func dial(t *testing.T, network string, port int) net.Conn {
	conn, err := net.Dial(network, net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func send(t *testing.T, conn net.Conn, cmd protocol.Command, seq uint32) {
	data, _ := protocol.Encode(cmd, seq)
	_, err := conn.Write(data)
	require.NoError(t, err)
}

func TestAckFlag(t *testing.T) {
	e := startEmulator(t)
	cmd := dial(t, "udp", e.CommandPort())

	assert.True(t, e.ReadData().Ack)

	send(t, cmd, protocol.ControlDataCommand{Mode: protocol.ResetAckFlag}, 1)
	assert.Eventually(t, func() bool { return !e.ReadData().Ack }, time.Second, 5*time.Millisecond)

	send(t, cmd, protocol.SetConfigValueCommand{Key: "control:outdoor", Value: "TRUE"}, 2)
	assert.Eventually(t, func() bool { return e.ReadData().Ack }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "TRUE", e.ConfigValue("control:outdoor"))

	assert.Equal(t, []string{"CTRL", "CONFIG"}, e.ReceivedNames())
}

func TestNavDataModes(t *testing.T) {
	e := startEmulator(t)
	nav := dial(t, "udp", e.NavDataPort())
	cmd := dial(t, "udp", e.CommandPort())

	_, err := nav.Write(protocol.Trigger)
	require.NoError(t, err)

	read := func() *protocol.NavData {
		buf := make([]byte, 1024)
		_ = nav.SetReadDeadline(time.Now().Add(time.Second))

		n, err := nav.Read(buf)
		if err != nil {
			return &protocol.NavData{}
		}

		var d protocol.NavData
		if err := d.Unmarshal(buf[:n]); err != nil {
			return &protocol.NavData{}
		}
		return &d
	}

	d := read()
	require.NotZero(t, d.Sequence)
	assert.True(t, d.Has(protocol.StateNavDataBootstrap))
	assert.Nil(t, d.Demo)

	send(t, cmd, protocol.SetConfigValueCommand{Key: "general:navdata_demo", Value: "TRUE"}, 1)
	send(t, cmd, protocol.FlightModeCommand{Mode: protocol.TakeOff}, 2)

	assert.Eventually(t, func() bool {
		d := read()
		return d.Demo != nil && d.Has(protocol.StateFlying) && d.Demo.Altitude == 1000
	}, time.Second, time.Millisecond)
}

func TestConfigPushedOnRequest(t *testing.T) {
	e := startEmulator(t)
	cmd := dial(t, "udp", e.CommandPort())

	// requested before anyone listens: delivered on connect
	send(t, cmd, protocol.ControlDataCommand{Mode: protocol.GetControlData}, 1)
	assert.Eventually(t, func() bool { return len(e.Received()) == 1 }, time.Second, 5*time.Millisecond)

	cfg := dial(t, "tcp", e.ConfigPort())
	_ = cfg.SetReadDeadline(time.Now().Add(time.Second))

	values := map[string]string{}
	sc := bufio.NewScanner(cfg)
	for len(values) < len(DefaultValues()) && sc.Scan() {
		k, v, ok := protocol.ParseConfigLine(sc.Text())
		require.True(t, ok)
		values[k] = v
	}

	assert.Equal(t, DefaultValues(), values)
}

func TestH264Stream(t *testing.T) {
	e := startEmulator(t)
	video := dial(t, "tcp", e.VideoPort())
	_ = video.SetReadDeadline(time.Now().Add(time.Second))

	r := bufio.NewReader(video)

	first, _, err := protocol.ReadPaVE(r)
	require.NoError(t, err)
	assert.False(t, first.KeyFrame())

	second, payload, err := protocol.ReadPaVE(r)
	require.NoError(t, err)
	assert.True(t, second.KeyFrame())
	assert.Equal(t, first.FrameNumber+1, second.FrameNumber)
	assert.Equal(t, byte(0x67), payload[4])
}
