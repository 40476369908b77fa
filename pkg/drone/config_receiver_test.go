package drone

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tcpPeer(t *testing.T) (net.Listener, <-chan net.Conn) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	conns := make(chan net.Conn, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		t.Cleanup(func() { _ = c.Close() })
		conns <- c
	}()

	return l, conns
}

func startConfigReceiver(t *testing.T) (*ConfigDataReceiver, net.Conn) {
	l, conns := tcpPeer(t)

	cfg := testConfig()
	cfg.ConfigPort = l.Addr().(*net.TCPAddr).Port

	r := NewConfigDataReceiver(cfg)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)

	select {
	case c := <-conns:
		return r, c
	case <-time.After(time.Second):
		t.Fatal("no connection")
	}

	return nil, nil
}

func TestConfigDumpsReplaceEachOther(t *testing.T) {
	r, conn := startConfigReceiver(t)

	var (
		mu  sync.Mutex
		got []*DroneConfiguration
	)
	r.AddConfigurationListener(func(c *DroneConfiguration) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	})

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(got)
	}

	_, err := conn.Write([]byte("a = 1\nbad-line\nb = 2 = x\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return count() == 1 }, time.Second, 10*time.Millisecond)

	_, err = conn.Write([]byte("c = 3\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return count() == 2 }, time.Second, 10*time.Millisecond)

	// stays at two: silence alone does not publish anything
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 2, count())

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, map[string]string{"a": "1", "b": "2 = x"}, got[0].Values())
	assert.Equal(t, uint64(1), got[0].Revision())

	assert.Equal(t, map[string]string{"c": "3"}, got[1].Values())
	assert.Equal(t, uint64(2), got[1].Revision())

	assert.Same(t, got[1], r.Configuration())
}

func TestConfigPartialLineFlushed(t *testing.T) {
	r, conn := startConfigReceiver(t)

	_, err := conn.Write([]byte("general:num_version_soft = 2.4.8\ncustom:session_id = d2e081a3"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return r.Revision() == 1 }, time.Second, 10*time.Millisecond)

	c := r.Configuration()
	assert.Equal(t, "2.4.8", c.FirmwareVersion())
	assert.Equal(t, "d2e081a3", c.SessionChecksum())
}

func TestConfigAllMalformedStillPublished(t *testing.T) {
	r, conn := startConfigReceiver(t)

	_, err := conn.Write([]byte("garbage\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return r.Revision() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, r.Configuration().Len())
}

func TestConfigPeerClose(t *testing.T) {
	r, conn := startConfigReceiver(t)

	states := make(chan ReadyState, 1)
	r.AddReadyStateListener(func(s ReadyState) { states <- s })

	_, err := conn.Write([]byte("a = 1\n"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	select {
	case s := <-states:
		assert.Equal(t, NotReady, s)
	case <-time.After(time.Second):
		t.Fatal("no NOT_READY after close")
	}

	assert.Equal(t, uint64(1), r.Revision())
}

func TestConfigDialFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := testConfig()
	cfg.ConfigPort = port

	err = NewConfigDataReceiver(cfg).Start(context.Background())

	var cre *ConfigRetrievalError
	require.True(t, errors.As(err, &cre))
	assert.Contains(t, cre.Addr, "127.0.0.1")
}
