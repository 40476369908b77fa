package drone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"dronecontrol/pkg/protocol"
)

// session is the set of workers of one Start call.
type session struct {
	sender    *CommandSender
	telemetry *TelemetryReceiver
	config    *ConfigDataReceiver
	video     VideoReceiver
	barrier   *readinessBarrier

	// mu orders worker starts against stopWorkers.
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool
	lost    atomic.Pointer[string]
	remove  []func()
}

// startWorker runs start unless the session has already ended.
func (s *session) startWorker(start func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped.Load() {
		return ErrStopped
	}

	return start()
}

func (s *session) stopWorkers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sender.Stop()
	s.telemetry.Stop()
	s.config.Stop()
	s.video.Stop()
}

// bind returns a context that is also cancelled when the session ends.
func (s *session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)

	return ctx, func() {
		stop()
		cancel()
	}
}

// Coordinator brings the workers up in order, runs the login and tracks
// readiness. Listeners registered on it survive restarts.
type Coordinator struct {
	readyStateComponent

	cfg    Config
	opts   []Option
	logger *slog.Logger

	mu      sync.Mutex
	current *session
	ready   atomic.Bool

	telemetryListeners Listeners[TelemetryState]
	configListeners    Listeners[*DroneConfiguration]
	frameListeners     Listeners[Frame]
}

func NewCoordinator(cfg Config, opts ...Option) *Coordinator {
	s := newSettings(opts)

	return &Coordinator{
		cfg:    cfg,
		opts:   opts,
		logger: s.workerLogger("coordinator"),
	}
}

// Start blocks until the session is READY. On failure every worker started
// so far is stopped and a *StartupError is returned.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}

	s := c.newSession()
	c.current = s
	c.mu.Unlock()

	if err := c.startup(ctx, s); err != nil {
		c.logger.Error("startup failed", slog.Any("error", err))
		c.endSession(s)
		return err
	}

	if c.ready.CompareAndSwap(false, true) {
		c.logger.Info("drone ready", slog.String("version", string(c.cfg.Version)))
		c.emitReadyState(Ready)
	}

	return nil
}

// Stop requests shutdown of every worker and returns without waiting for
// them to unwind. A worker dial in progress finishes first so that the
// worker can be stopped.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s != nil {
		c.endSession(s)
	}
}

func (c *Coordinator) newSession() *session {
	s := &session{barrier: newReadinessBarrier()}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.telemetry = NewTelemetryReceiver(c.cfg, c.opts...)
	s.sender = NewCommandSender(c.cfg, s.telemetry, c.opts...)
	s.config = NewConfigDataReceiver(c.cfg, c.opts...)
	s.video = NewVideoReceiver(c.cfg, c.opts...)

	s.remove = append(s.remove,
		s.sender.AddReadyStateListener(c.workerListener(s, workerCommand)),
		s.config.AddReadyStateListener(c.workerListener(s, workerConfig)),
		s.telemetry.AddReadyStateListener(c.workerListener(s, workerTelemetry)),
		s.video.AddReadyStateListener(c.workerListener(s, workerVideo)),
		s.telemetry.AddTelemetryListener(c.telemetryListeners.Emit),
		s.config.AddConfigurationListener(c.configListeners.Emit),
		s.video.AddFrameListener(c.frameListeners.Emit),
	)

	return s
}

func (c *Coordinator) workerListener(s *session, worker string) func(ReadyState) {
	return func(state ReadyState) {
		if s.stopped.Load() {
			return
		}

		if state == Ready {
			cs := s.barrier.workerReady(worker)
			c.logger.Debug("worker ready", slog.String("name", worker), slog.String("state", cs.String()))
			return
		}

		c.logger.Warn("worker not ready", slog.String("name", worker))

		if s.lost.CompareAndSwap(nil, &worker) {
			s.barrier.changed.broadcast()
		}

		if c.ready.CompareAndSwap(true, false) {
			c.emitReadyState(NotReady)
		}
	}
}

func (c *Coordinator) startup(ctx context.Context, s *session) error {
	// workers run until Stop, not until ctx is done
	wctx := context.WithoutCancel(ctx)

	ctx, cancel := s.bind(ctx)
	defer cancel()

	fail := func(stage string, err error) error {
		if s.stopped.Load() {
			err = ErrStopped
		}
		return &StartupError{Stage: stage, Err: err}
	}

	if err := s.startWorker(func() error { return s.sender.Start(wctx) }); err != nil {
		return fail("command sender", err)
	}

	if err := s.startWorker(func() error { return s.config.Start(wctx) }); err != nil {
		return fail("config receiver", err)
	}

	if err := s.startWorker(func() error { return s.telemetry.Start(wctx) }); err != nil {
		return fail("telemetry receiver", err)
	}

	if err := c.await(ctx, s, StateAllWorkersReady, "workers ready"); err != nil {
		return fail("workers", err)
	}

	if err := c.login(ctx, s); err != nil {
		return fail("login", err)
	}

	if err := s.startWorker(func() error { return s.video.Start(wctx) }); err != nil {
		return fail("video receiver", err)
	}

	if err := c.await(ctx, s, StateReady, "video ready"); err != nil {
		return fail("video", err)
	}

	return nil
}

func (c *Coordinator) await(ctx context.Context, s *session, state ControllerState, op string) error {
	reached := s.barrier.reached(state)

	err := waitFor(ctx, c.cfg.ReadyTimeout, c.cfg.PollInterval, s.barrier.changed.C, func() bool {
		return s.stopped.Load() || s.lost.Load() != nil || reached()
	})

	switch {
	case s.stopped.Load():
		return ErrStopped
	case errors.Is(err, errWaitTimeout):
		return &TimeoutError{Op: op, Timeout: c.cfg.ReadyTimeout}
	case err != nil:
		return err
	case s.lost.Load() != nil:
		return fmt.Errorf("%s worker went down", *s.lost.Load())
	}

	return nil
}

func (c *Coordinator) login(ctx context.Context, s *session) error {
	ids := c.cfg.checksums()

	steps := []protocol.Command{
		protocol.SetConfigValueCommand{Checksums: ids, Key: KeySessionID, Value: c.cfg.SessionID},
		protocol.SetConfigValueCommand{Checksums: ids, Key: KeyProfileID, Value: c.cfg.ProfileID},
		protocol.SetConfigValueCommand{Checksums: ids, Key: KeyApplicationID, Value: c.cfg.ApplicationID},
		protocol.SetConfigValueCommand{Checksums: ids, Key: KeyNavDataDemo, Value: "TRUE"},
	}

	for _, cmd := range steps {
		if err := s.sender.SendAcknowledged(ctx, cmd); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
	}

	return c.queryConfiguration(ctx, s)
}

// queryConfiguration asks for a dump and waits until one newer than the
// current snapshot has arrived. Ending the session interrupts the wait.
func (c *Coordinator) queryConfiguration(ctx context.Context, s *session) error {
	ctx, cancel := s.bind(ctx)
	defer cancel()

	since := s.config.Revision()
	cmd := protocol.ControlDataCommand{Mode: protocol.GetControlData}

	if err := s.sender.SendAcknowledged(ctx, cmd); err != nil {
		if s.stopped.Load() {
			return ErrStopped
		}
		return fmt.Errorf("%s: %w", cmd, err)
	}

	err := waitFor(ctx, c.cfg.ConfigTimeout, c.cfg.PollInterval, s.config.Changed, func() bool {
		return s.config.Revision() > since
	})

	switch {
	case err == nil:
		return nil
	case s.stopped.Load():
		return ErrStopped
	case errors.Is(err, errWaitTimeout):
		return &TimeoutError{Op: "configuration", Timeout: c.cfg.ConfigTimeout}
	}

	return err
}

// endSession may run more than once for a session; every call stops the
// workers so that one started during an earlier call is not left running.
func (c *Coordinator) endSession(s *session) {
	first := s.stopped.CompareAndSwap(false, true)
	if first {
		s.cancel()

		c.mu.Lock()
		if c.current == s {
			c.current = nil
		}
		c.mu.Unlock()
	}

	s.stopWorkers()

	if !first {
		return
	}

	for _, remove := range s.remove {
		remove()
	}

	if c.ready.CompareAndSwap(true, false) {
		c.logger.Info("drone stopped")
		c.emitReadyState(NotReady)
	}
}

func (c *Coordinator) activeSession() *session {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.current
}

func (c *Coordinator) State() ControllerState {
	if s := c.activeSession(); s != nil {
		return s.barrier.State()
	}

	return StateStopped
}

func (c *Coordinator) IsReady() bool {
	return c.ready.Load()
}

// DroneConfiguration returns the latest snapshot or nil.
func (c *Coordinator) DroneConfiguration() *DroneConfiguration {
	if s := c.activeSession(); s != nil {
		return s.config.Configuration()
	}

	return nil
}

func (c *Coordinator) DroneVersion() DroneVersion {
	return c.cfg.Version
}

func (c *Coordinator) LatestTelemetry() (TelemetryState, bool) {
	if s := c.activeSession(); s != nil {
		return s.telemetry.Latest()
	}

	return TelemetryState{}, false
}

func (c *Coordinator) LastFrame() (Frame, bool) {
	if s := c.activeSession(); s != nil {
		return s.video.LastFrame()
	}

	return Frame{}, false
}

// RefreshConfiguration re-reads the configuration dump.
func (c *Coordinator) RefreshConfiguration(ctx context.Context) error {
	s := c.activeSession()
	if s == nil || !c.IsReady() {
		return ErrNotReady
	}

	return c.queryConfiguration(ctx, s)
}

func (c *Coordinator) Send(cmd protocol.Command) error {
	s := c.activeSession()
	if s == nil {
		return ErrNotReady
	}

	return s.sender.Send(cmd)
}

func (c *Coordinator) SendAcknowledged(ctx context.Context, cmd protocol.Command) error {
	s := c.activeSession()
	if s == nil {
		return ErrNotReady
	}

	ctx, cancel := s.bind(ctx)
	defer cancel()

	if err := s.sender.SendAcknowledged(ctx, cmd); err != nil {
		if s.stopped.Load() {
			return ErrStopped
		}
		return err
	}

	return nil
}

func (c *Coordinator) AddTelemetryListener(fn func(TelemetryState)) (remove func()) {
	return c.telemetryListeners.Add(fn)
}

func (c *Coordinator) AddConfigurationListener(fn func(*DroneConfiguration)) (remove func()) {
	return c.configListeners.Add(fn)
}

func (c *Coordinator) AddFrameListener(fn func(Frame)) (remove func()) {
	return c.frameListeners.Add(fn)
}
