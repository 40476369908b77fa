package drone

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1"
	cfg.KeepAliveInterval = 0
	cfg.DialTimeout = time.Second
	cfg.ConfigReadTimeout = 50 * time.Millisecond
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.ReadyTimeout = 5 * time.Second
	cfg.ConfigTimeout = 5 * time.Second

	return cfg
}

type fakeAck struct {
	mu      sync.Mutex
	ack     bool
	changed *notifier
}

func newFakeAck(ack bool) *fakeAck {
	return &fakeAck{ack: ack, changed: newNotifier()}
}

func (f *fakeAck) ControlReceived() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.ack
}

func (f *fakeAck) Changed() <-chan struct{} {
	return f.changed.C()
}

func (f *fakeAck) set(v bool) {
	f.mu.Lock()
	f.ack = v
	f.mu.Unlock()

	f.changed.broadcast()
}

// udpPeer collects datagrams sent to a loopback port.
type udpPeer struct {
	conn *net.UDPConn

	mu   sync.Mutex
	msgs []string
}

func newUDPPeer(t *testing.T, onMessage func(string)) *udpPeer {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	p := &udpPeer{conn: conn}
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}

			msg := string(buf[:n])

			p.mu.Lock()
			p.msgs = append(p.msgs, msg)
			p.mu.Unlock()

			if onMessage != nil {
				onMessage(msg)
			}
		}
	}()

	return p
}

func (p *udpPeer) port() int {
	return p.conn.LocalAddr().(*net.UDPAddr).Port
}

func (p *udpPeer) messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.msgs...)
}
