package drone

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"dronecontrol/pkg/protocol"
)

// ConfigDataReceiver reads configuration dumps from the config channel. The
// vehicle sends a dump as a burst of lines; silence for ConfigReadTimeout
// ends the burst.
type ConfigDataReceiver struct {
	readyStateComponent

	cfg    Config
	logger *slog.Logger

	conn      atomic.Pointer[net.TCPConn]
	current   atomic.Pointer[DroneConfiguration]
	revision  uint64
	changed   *notifier
	listeners Listeners[*DroneConfiguration]

	cancel  context.CancelFunc
	running atomic.Bool
}

func NewConfigDataReceiver(cfg Config, opts ...Option) *ConfigDataReceiver {
	s := newSettings(opts)

	return &ConfigDataReceiver{
		cfg:     cfg,
		logger:  s.workerLogger(workerConfig),
		changed: newNotifier(),
	}
}

// Start connects to the config channel. A failed connection is reported as
// *ConfigRetrievalError.
func (r *ConfigDataReceiver) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	addr := r.cfg.addr(r.cfg.ConfigPort)

	conn, err := dialTCP(addr, r.cfg.DialTimeout)
	if err != nil {
		r.running.Store(false)
		return &ConfigRetrievalError{Addr: addr, Err: err}
	}

	r.conn.Store(conn)

	ctx, r.cancel = context.WithCancel(ctx)

	go r.reader(ctx, conn)

	r.logger.Debug("connected", slog.String("addr", addr))
	r.emitReadyState(Ready)

	return nil
}

func (r *ConfigDataReceiver) Stop() {
	if r.cancel != nil {
		r.cancel()
	}

	if conn := r.conn.Swap(nil); conn != nil {
		_ = conn.Close()
	}
}

// Configuration returns the latest dump or nil before the first one.
func (r *ConfigDataReceiver) Configuration() *DroneConfiguration {
	return r.current.Load()
}

// Revision is the revision of the latest dump, 0 before the first one.
func (r *ConfigDataReceiver) Revision() uint64 {
	if c := r.current.Load(); c != nil {
		return c.Revision()
	}

	return 0
}

func (r *ConfigDataReceiver) Changed() <-chan struct{} {
	return r.changed.C()
}

func (r *ConfigDataReceiver) AddConfigurationListener(fn func(*DroneConfiguration)) (remove func()) {
	return r.listeners.Add(fn)
}

func (r *ConfigDataReceiver) reader(ctx context.Context, conn *net.TCPConn) {
	defer r.emitReadyState(NotReady)

	rd := bufio.NewReader(conn)

	var (
		lines   []string
		partial strings.Builder
	)

	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(r.cfg.ConfigReadTimeout))

		s, err := rd.ReadString('\n')
		partial.WriteString(s)

		if err == nil {
			lines = append(lines, partial.String())
			partial.Reset()
			continue
		}

		if partial.Len() > 0 {
			lines = append(lines, partial.String())
			partial.Reset()
		}

		r.publish(lines)
		lines = nil

		if isTimeout(err) {
			continue
		}

		if ctx.Err() == nil {
			r.logger.Error("config channel closed",
				slog.Any("error", &ConfigRetrievalError{Addr: conn.RemoteAddr().String(), Err: err}))
		}

		return
	}
}

func (r *ConfigDataReceiver) publish(lines []string) {
	if len(lines) == 0 {
		return
	}

	values := protocol.ParseConfigLines(lines)

	r.revision++
	c := newDroneConfiguration(values, r.revision, time.Now())

	r.current.Store(c)
	r.changed.broadcast()

	r.logger.Info("configuration received", slog.Int("keys", c.Len()), slog.Int("lines", len(lines)),
		slog.Uint64("revision", c.Revision()))

	r.listeners.Emit(c)
}
