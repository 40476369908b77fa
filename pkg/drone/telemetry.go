package drone

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"dronecontrol/pkg/protocol"
)

// TelemetryState is the decoded content of one navdata packet.
type TelemetryState struct {
	Sequence        uint32    `json:"seq"`
	State           uint32    `json:"state"`
	Flying          bool      `json:"flying"`
	Emergency       bool      `json:"emergency"`
	BatteryTooLow   bool      `json:"battery_too_low"`
	ComLost         bool      `json:"com_lost"`
	Demo            bool      `json:"demo"`
	ControlReceived bool      `json:"control_received"`
	BatteryLevel    int       `json:"battery"`
	Altitude        float64   `json:"altitude"` // m
	Pitch           float64   `json:"pitch"`    // deg
	Roll            float64   `json:"roll"`
	Yaw             float64   `json:"yaw"`
	VX              float64   `json:"vx"` // mm/s
	VY              float64   `json:"vy"`
	VZ              float64   `json:"vz"`
	Received        time.Time `json:"received"`
}

func (t TelemetryState) String() string {
	return fmt.Sprintf("flying: %t, emergency: %t, battery: %d%%, alt: %.2fm, ack: %t",
		t.Flying, t.Emergency, t.BatteryLevel, t.Altitude, t.ControlReceived)
}

func newTelemetryState(n *protocol.NavData, received time.Time) TelemetryState {
	t := TelemetryState{
		Sequence:        n.Sequence,
		State:           n.State,
		Flying:          n.Has(protocol.StateFlying),
		Emergency:       n.Has(protocol.StateEmergency),
		BatteryTooLow:   n.Has(protocol.StateBatteryLow),
		ComLost:         n.Has(protocol.StateComLost),
		Demo:            n.Has(protocol.StateNavDataDemo),
		ControlReceived: n.Has(protocol.StateCommandAck),
		Received:        received,
	}

	if d := n.Demo; d != nil {
		t.BatteryLevel = int(d.Battery)
		t.Altitude = float64(d.Altitude) / 1000
		t.Pitch = float64(d.Theta) / 1000
		t.Roll = float64(d.Phi) / 1000
		t.Yaw = float64(d.Psi) / 1000
		t.VX = float64(d.VX)
		t.VY = float64(d.VY)
		t.VZ = float64(d.VZ)
	}

	return t
}

// TelemetryReceiver reads navdata packets and keeps the latest decoded state.
type TelemetryReceiver struct {
	readyStateComponent

	cfg    Config
	logger *slog.Logger

	conn      atomic.Pointer[net.UDPConn]
	latest    atomic.Pointer[TelemetryState]
	changed   *notifier
	listeners Listeners[TelemetryState]

	cancel    context.CancelFunc
	readyOnce sync.Once
	running   atomic.Bool
}

func NewTelemetryReceiver(cfg Config, opts ...Option) *TelemetryReceiver {
	s := newSettings(opts)

	return &TelemetryReceiver{
		cfg:     cfg,
		logger:  s.workerLogger(workerTelemetry),
		changed: newNotifier(),
	}
}

func (r *TelemetryReceiver) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	conn, err := dialUDP(r.cfg.addr(r.cfg.NavDataPort))
	if err != nil {
		r.running.Store(false)
		return fmt.Errorf("navdata channel: %w", err)
	}

	r.conn.Store(conn)

	ctx, r.cancel = context.WithCancel(ctx)

	r.trigger()
	go r.reader(ctx)

	if r.cfg.KeepAliveInterval > 0 {
		go periodical(ctx, r.cfg.KeepAliveInterval, r.trigger)
	}

	r.logger.Debug("started", slog.String("addr", conn.RemoteAddr().String()))

	return nil
}

func (r *TelemetryReceiver) Stop() {
	if r.cancel != nil {
		r.cancel()
	}

	if conn := r.conn.Swap(nil); conn != nil {
		_ = conn.Close()
	}
}

// Latest returns the most recent state; ok is false until the first packet.
func (r *TelemetryReceiver) Latest() (TelemetryState, bool) {
	if t := r.latest.Load(); t != nil {
		return *t, true
	}

	return TelemetryState{}, false
}

// ControlReceived is the command acknowledge flag of the latest packet.
func (r *TelemetryReceiver) ControlReceived() bool {
	t := r.latest.Load()
	return t != nil && t.ControlReceived
}

// Changed is closed when the next packet has been stored.
func (r *TelemetryReceiver) Changed() <-chan struct{} {
	return r.changed.C()
}

func (r *TelemetryReceiver) AddTelemetryListener(fn func(TelemetryState)) (remove func()) {
	return r.listeners.Add(fn)
}

func (r *TelemetryReceiver) trigger() {
	conn := r.conn.Load()
	if conn == nil {
		return
	}

	if _, err := conn.Write(protocol.Trigger); err != nil {
		r.logger.Warn("trigger", slog.Any("error", err))
	}
}

func (r *TelemetryReceiver) reader(ctx context.Context) {
	buf := make([]byte, 4096)

	for ctx.Err() == nil {
		conn := r.conn.Load()
		if conn == nil {
			break
		}

		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Error("read failed", slog.Any("error", err))
			}
			break
		}

		nav := new(protocol.NavData)
		if err := nav.Unmarshal(buf[:n]); err != nil {
			r.logger.Warn("bad packet", slog.Any("error", err))
			continue
		}

		t := newTelemetryState(nav, time.Now())
		r.latest.Store(&t)
		r.changed.broadcast()

		r.readyOnce.Do(func() {
			r.logger.Info("first packet received", slog.Uint64("seq", uint64(nav.Sequence)))
			r.emitReadyState(Ready)
		})

		r.listeners.Emit(t)
	}

	r.emitReadyState(NotReady)
}
