package drone

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronecontrol/pkg/protocol"
)

// ackingPeer behaves like the vehicle: CTRL 5 clears the flag, anything else sets it.
func ackingPeer(t *testing.T, ack *fakeAck) *udpPeer {
	return newUDPPeer(t, func(msg string) {
		if strings.HasPrefix(msg, "AT*CTRL=") && strings.HasSuffix(msg, ",5,0\r") {
			ack.set(false)
			return
		}
		ack.set(true)
	})
}

func startSender(t *testing.T, cfg Config, ack AckSource) *CommandSender {
	s := NewCommandSender(cfg, ack)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)

	return s
}

func TestHandshake(t *testing.T) {
	ack := newFakeAck(true)
	peer := ackingPeer(t, ack)

	cfg := testConfig()
	cfg.CommandPort = peer.port()

	s := startSender(t, cfg, ack)

	cmd := protocol.SetConfigValueCommand{Key: "general:navdata_demo", Value: "TRUE"}
	require.NoError(t, s.SendAcknowledged(context.Background(), cmd))

	assert.Equal(t, []string{
		"AT*CTRL=1,5,0\r",
		"AT*CONFIG=2,\"general:navdata_demo\",\"TRUE\"\r",
	}, peer.messages())
}

func TestHandshakeWaitsForInitialAck(t *testing.T) {
	ack := newFakeAck(false)
	peer := ackingPeer(t, ack)

	cfg := testConfig()
	cfg.CommandPort = peer.port()

	s := startSender(t, cfg, ack)

	go func() {
		time.Sleep(50 * time.Millisecond)
		ack.set(true)
	}()

	require.NoError(t, s.SendAcknowledged(context.Background(), protocol.FlatTrimCommand{}))
	assert.Equal(t, []string{"AT*CTRL=1,5,0\r", "AT*FTRIM=2\r"}, peer.messages())
}

func TestHandshakeTimeouts(t *testing.T) {
	cfg := testConfig()
	cfg.HandshakeTimeout = 100 * time.Millisecond

	t.Run("flag never set", func(t *testing.T) {
		ack := newFakeAck(false)
		peer := newUDPPeer(t, nil)

		cfg := cfg
		cfg.CommandPort = peer.port()
		s := startSender(t, cfg, ack)

		err := s.SendAcknowledged(context.Background(), protocol.FlatTrimCommand{})

		var hte *HandshakeTimeoutError
		require.True(t, errors.As(err, &hte))
		assert.Equal(t, "acknowledge set", hte.Step)
		assert.Equal(t, cfg.HandshakeTimeout, hte.Timeout)
		assert.Empty(t, peer.messages())
	})

	t.Run("flag never reset", func(t *testing.T) {
		ack := newFakeAck(true)
		peer := newUDPPeer(t, nil)

		cfg := cfg
		cfg.CommandPort = peer.port()
		s := startSender(t, cfg, ack)

		err := s.SendAcknowledged(context.Background(), protocol.FlatTrimCommand{})

		var hte *HandshakeTimeoutError
		require.True(t, errors.As(err, &hte))
		assert.Equal(t, "acknowledge reset", hte.Step)

		assert.Eventually(t, func() bool {
			return assert.ObjectsAreEqual([]string{"AT*CTRL=1,5,0\r"}, peer.messages())
		}, time.Second, 10*time.Millisecond)
	})
}

func TestHandshakesDoNotInterleave(t *testing.T) {
	ack := newFakeAck(true)
	peer := ackingPeer(t, ack)

	cfg := testConfig()
	cfg.CommandPort = peer.port()

	s := startSender(t, cfg, ack)

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			assert.NoError(t, s.SendAcknowledged(context.Background(), protocol.SetConfigValueCommand{Key: key, Value: "1"}))
		}(key)
	}
	wg.Wait()

	msgs := peer.messages()
	require.Len(t, msgs, 6)

	for i := 0; i < len(msgs); i += 2 {
		assert.True(t, strings.HasPrefix(msgs[i], "AT*CTRL="), msgs[i])
		assert.True(t, strings.HasPrefix(msgs[i+1], "AT*CONFIG="), msgs[i+1])
	}
}

func TestSendBeforeStart(t *testing.T) {
	s := NewCommandSender(testConfig(), newFakeAck(true))

	assert.ErrorIs(t, s.Send(protocol.FlatTrimCommand{}), ErrNotReady)
}

func TestSendAfterStop(t *testing.T) {
	peer := newUDPPeer(t, nil)

	cfg := testConfig()
	cfg.CommandPort = peer.port()

	s := NewCommandSender(cfg, newFakeAck(true))
	require.NoError(t, s.Start(context.Background()))

	s.Stop()

	assert.Eventually(t, func() bool {
		return errors.Is(s.Send(protocol.FlatTrimCommand{}), ErrStopped)
	}, time.Second, 10*time.Millisecond)
}

func TestKeepAlive(t *testing.T) {
	peer := newUDPPeer(t, nil)

	cfg := testConfig()
	cfg.CommandPort = peer.port()
	cfg.KeepAliveInterval = 10 * time.Millisecond

	startSender(t, cfg, newFakeAck(true))

	assert.Eventually(t, func() bool {
		msgs := peer.messages()
		return len(msgs) >= 2 && msgs[0] == "AT*COMWDG=1\r" && msgs[1] == "AT*COMWDG=2\r"
	}, time.Second, 10*time.Millisecond)
}
