package drone

import (
	"context"
	"errors"
	"net"
	"os"
	"time"
)

func periodical(ctx context.Context, t time.Duration, f func()) {
	ticker := time.NewTicker(t)
	defer ticker.Stop()

	for ctx.Err() == nil {
		select {
		case <-ticker.C:
			f()
		case <-ctx.Done():
			return
		}
	}
}

func dialUDP(addr string) (*net.UDPConn, error) {
	a, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	return net.DialUDP("udp", nil, a)
}

func dialTCP(addr string, timeout time.Duration) (*net.TCPConn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}

	return conn.(*net.TCPConn), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
