package drone

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"dronecontrol/pkg/protocol"
)

const configQueueSize = 16

// Controller is the application facing API. Every intent fails with
// ErrNotReady unless the session is ready.
type Controller struct {
	coordinator *Coordinator
	cfg         Config
	logger      *slog.Logger

	mu     sync.Mutex
	jobs   chan protocol.Command
	cancel context.CancelFunc

	emergency          atomic.Bool
	emergencyListeners Listeners[TelemetryState]
}

func NewController(cfg Config, opts ...Option) *Controller {
	s := newSettings(opts)

	c := &Controller{
		coordinator: NewCoordinator(cfg, opts...),
		cfg:         cfg,
		logger:      s.workerLogger("controller"),
	}

	c.coordinator.AddTelemetryListener(c.watchEmergency)

	return c
}

// Start blocks until the drone is ready or startup fails.
func (c *Controller) Start(ctx context.Context) error {
	started := c.startExecutor(ctx)

	err := c.coordinator.Start(ctx)
	if err != nil && started {
		c.stopExecutor()
	}

	return err
}

// StartAsync runs Start on its own goroutine; the result is delivered once.
func (c *Controller) StartAsync(ctx context.Context) <-chan error {
	res := make(chan error, 1)

	go func() {
		res <- c.Start(ctx)
		close(res)
	}()

	return res
}

func (c *Controller) Stop() {
	c.coordinator.Stop()
	c.stopExecutor()
}

func (c *Controller) IsReady() bool {
	return c.coordinator.IsReady()
}

func (c *Controller) State() ControllerState {
	return c.coordinator.State()
}

func (c *Controller) DroneConfiguration() *DroneConfiguration {
	return c.coordinator.DroneConfiguration()
}

func (c *Controller) DroneVersion() DroneVersion {
	return c.coordinator.DroneVersion()
}

func (c *Controller) LatestTelemetry() (TelemetryState, bool) {
	return c.coordinator.LatestTelemetry()
}

func (c *Controller) LastFrame() (Frame, bool) {
	return c.coordinator.LastFrame()
}

func (c *Controller) AddReadyStateListener(fn func(ReadyState)) (remove func()) {
	return c.coordinator.AddReadyStateListener(fn)
}

func (c *Controller) AddTelemetryListener(fn func(TelemetryState)) (remove func()) {
	return c.coordinator.AddTelemetryListener(fn)
}

func (c *Controller) AddConfigurationListener(fn func(*DroneConfiguration)) (remove func()) {
	return c.coordinator.AddConfigurationListener(fn)
}

func (c *Controller) AddFrameListener(fn func(Frame)) (remove func()) {
	return c.coordinator.AddFrameListener(fn)
}

// AddEmergencyListener is called when telemetry first reports the emergency state.
func (c *Controller) AddEmergencyListener(fn func(TelemetryState)) (remove func()) {
	return c.emergencyListeners.Add(fn)
}

func (c *Controller) TakeOff() error {
	return c.send(protocol.FlightModeCommand{Mode: protocol.TakeOff})
}

func (c *Controller) Land() error {
	return c.send(protocol.FlightModeCommand{Mode: protocol.Land})
}

func (c *Controller) Emergency() error {
	return c.send(protocol.FlightModeCommand{Mode: protocol.Emergency})
}

func (c *Controller) FlatTrim() error {
	return c.send(protocol.FlatTrimCommand{})
}

// Move sets progressive movement; every value is clamped to [-1, 1].
func (c *Controller) Move(roll, pitch, yaw, verticalSpeed float32) error {
	return c.send(protocol.NewMoveCommand(roll, pitch, yaw, verticalSpeed))
}

func (c *Controller) Hover() error {
	return c.send(protocol.MoveCommand{})
}

func (c *Controller) PlayFlightAnimation(kind protocol.FlightAnimation) error {
	return c.send(protocol.PlayFlightAnimationCommand{Kind: kind})
}

func (c *Controller) SwitchCamera(camera protocol.Camera) error {
	return c.submit(protocol.SwitchCameraCommand{Checksums: c.checksums(), Camera: camera})
}

func (c *Controller) SetConfigValue(key, value string) error {
	return c.submit(protocol.SetConfigValueCommand{Checksums: c.checksums(), Key: key, Value: value})
}

func (c *Controller) PlayLedAnimation(animation protocol.LedAnimation, frequency float32, duration int) error {
	return c.submit(protocol.PlayLedAnimationCommand{
		Checksums: c.checksums(),
		Animation: animation,
		Frequency: frequency,
		Duration:  duration,
	})
}

// RefreshConfiguration asks for a new dump and waits for it.
func (c *Controller) RefreshConfiguration(ctx context.Context) error {
	if !c.IsReady() {
		c.logger.Warn("drone not ready, configuration refresh ignored")
		return ErrNotReady
	}

	return c.coordinator.RefreshConfiguration(ctx)
}

func (c *Controller) send(cmd protocol.Command) error {
	if !c.IsReady() {
		c.logger.Warn("drone not ready, command ignored", slog.String("command", cmd.String()))
		return ErrNotReady
	}

	return c.coordinator.Send(cmd)
}

// submit queues a configuration command for the handshake executor.
func (c *Controller) submit(cmd protocol.Command) error {
	if !c.IsReady() {
		c.logger.Warn("drone not ready, command ignored", slog.String("command", cmd.String()))
		return ErrNotReady
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.jobs == nil {
		return ErrNotReady
	}

	select {
	case c.jobs <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *Controller) checksums() protocol.Checksums {
	if conf := c.DroneConfiguration(); conf != nil {
		if ids := conf.Checksums(); !ids.IsZero() {
			return ids
		}
	}

	return c.cfg.checksums()
}

func (c *Controller) startExecutor(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return false
	}

	ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.jobs = make(chan protocol.Command, configQueueSize)

	go c.executor(ctx, c.jobs)

	return true
}

func (c *Controller) stopExecutor() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
		c.jobs = nil
	}
}

func (c *Controller) executor(ctx context.Context, jobs <-chan protocol.Command) {
	for ctx.Err() == nil {
		select {
		case cmd := <-jobs:
			err := c.coordinator.SendAcknowledged(ctx, cmd)

			switch {
			case err == nil:
				c.logger.Debug("configuration applied", slog.String("command", cmd.String()))
			case errors.Is(err, context.Canceled):
			default:
				c.logger.Error("configuration command failed", slog.String("command", cmd.String()), slog.Any("error", err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) watchEmergency(t TelemetryState) {
	if c.emergency.Swap(t.Emergency) == t.Emergency {
		return
	}

	if !t.Emergency {
		c.logger.Info("emergency cleared")
		return
	}

	c.logger.Warn("emergency", slog.Int("battery", t.BatteryLevel), slog.Float64("altitude", t.Altitude))
	c.emergencyListeners.Emit(t)
}
