package drone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"dronecontrol/pkg/protocol"
)

// AckSource reports the command acknowledge flag seen in telemetry.
type AckSource interface {
	ControlReceived() bool
	Changed() <-chan struct{}
}

// CommandSender owns the command channel. Commands are written by a single
// goroutine in the order they were queued, each with a fresh sequence number.
type CommandSender struct {
	readyStateComponent

	cfg    Config
	logger *slog.Logger
	ack    AckSource

	conn      atomic.Pointer[net.UDPConn]
	commandCh chan protocol.Command
	seq       uint32

	handshakeMu sync.Mutex

	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
}

func NewCommandSender(cfg Config, ack AckSource, opts ...Option) *CommandSender {
	s := newSettings(opts)

	return &CommandSender{
		cfg:       cfg,
		logger:    s.workerLogger(workerCommand),
		ack:       ack,
		commandCh: make(chan protocol.Command, 50),
		seq:       1,
		done:      make(chan struct{}),
	}
}

func (s *CommandSender) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	conn, err := dialUDP(s.cfg.addr(s.cfg.CommandPort))
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("command channel: %w", err)
	}

	s.conn.Store(conn)

	ctx, s.cancel = context.WithCancel(ctx)

	go s.sender(ctx)

	if s.cfg.KeepAliveInterval > 0 {
		go periodical(ctx, s.cfg.KeepAliveInterval, func() {
			_ = s.Send(protocol.WatchdogCommand{})
		})
	}

	s.logger.Debug("started", slog.String("addr", conn.RemoteAddr().String()))
	s.emitReadyState(Ready)

	return nil
}

func (s *CommandSender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Send queues cmd for the sender goroutine.
func (s *CommandSender) Send(cmd protocol.Command) error {
	if !s.running.Load() {
		return ErrNotReady
	}

	select {
	case <-s.done:
		return ErrStopped
	default:
	}

	select {
	case s.commandCh <- cmd:
		return nil
	case <-s.done:
		return ErrStopped
	}
}

// SendAcknowledged delivers cmd using the acknowledge flag handshake:
// wait for the flag to be set, reset it, wait for it to clear, send cmd and
// wait for the flag to be set again. Only one handshake runs at a time.
func (s *CommandSender) SendAcknowledged(ctx context.Context, cmd protocol.Command) error {
	s.handshakeMu.Lock()
	defer s.handshakeMu.Unlock()

	log := s.logger.With(slog.String("command", cmd.String()))

	if err := s.awaitAck(ctx, cmd, "acknowledge set", true); err != nil {
		return err
	}

	if err := s.Send(protocol.ControlDataCommand{Mode: protocol.ResetAckFlag}); err != nil {
		return err
	}

	if err := s.awaitAck(ctx, cmd, "acknowledge reset", false); err != nil {
		return err
	}

	if err := s.Send(cmd); err != nil {
		return err
	}

	if err := s.awaitAck(ctx, cmd, "command acknowledge", true); err != nil {
		return err
	}

	log.Debug("acknowledged")

	return nil
}

func (s *CommandSender) awaitAck(ctx context.Context, cmd protocol.Command, step string, want bool) error {
	err := waitFor(ctx, s.cfg.HandshakeTimeout, s.cfg.PollInterval, s.ack.Changed, func() bool {
		return s.ack.ControlReceived() == want
	})

	if errors.Is(err, errWaitTimeout) {
		return &HandshakeTimeoutError{Command: cmd.String(), Step: step, Timeout: s.cfg.HandshakeTimeout}
	}

	return err
}

func (s *CommandSender) sender(ctx context.Context) {
	defer func() {
		close(s.done)

		if conn := s.conn.Swap(nil); conn != nil {
			_ = conn.Close()
		}

		s.emitReadyState(NotReady)
	}()

	for ctx.Err() == nil {
		select {
		case cmd := <-s.commandCh:
			conn := s.conn.Load()
			if conn == nil {
				continue
			}

			var data []byte
			data, s.seq = protocol.Encode(cmd, s.seq)

			if _, err := conn.Write(data); err != nil {
				s.logger.Warn("write failed", slog.String("command", cmd.String()), slog.Any("error", err))
			}
		case <-ctx.Done():
			return
		}
	}
}
