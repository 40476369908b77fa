// Package recorder stores the telemetry and configuration of a flight in sqlite.
package recorder

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"dronecontrol/pkg/drone"
)

// Source is what the recorder subscribes to; *drone.Controller satisfies it.
type Source interface {
	AddTelemetryListener(fn func(drone.TelemetryState)) (remove func())
	AddConfigurationListener(fn func(*drone.DroneConfiguration)) (remove func())
	DroneVersion() drone.DroneVersion
}

type Recorder struct {
	store  *SqliteStore
	logger *slog.Logger

	batchSize     int
	flushInterval time.Duration

	telemetryCh chan drone.TelemetryState
	configCh    chan *drone.DroneConfiguration
	dropped     atomic.Uint64
	written     atomic.Uint64

	sessionID int64
	remove    []func()
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type Option func(r *Recorder)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger.With(slog.String("worker", "recorder"))
	}
}

// WithBuffer sets the telemetry queue size and the rows written per insert.
func WithBuffer(size, batch int) Option {
	return func(r *Recorder) {
		r.telemetryCh = make(chan drone.TelemetryState, size)
		r.batchSize = batch
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(r *Recorder) {
		r.flushInterval = d
	}
}

func New(store *SqliteStore, opts ...Option) *Recorder {
	r := &Recorder{
		store:         store,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		batchSize:     50,
		flushInterval: time.Second,
		telemetryCh:   make(chan drone.TelemetryState, 512),
		configCh:      make(chan *drone.DroneConfiguration, 8),
	}

	for _, o := range opts {
		o(r)
	}

	return r
}

// Start opens a recording session and subscribes to src.
func (r *Recorder) Start(ctx context.Context, src Source, address string) error {
	id, err := r.store.CreateSession(ctx, src.DroneVersion(), address)
	if err != nil {
		return err
	}

	r.sessionID = id

	ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))

	r.wg.Add(1)
	go r.writer(ctx)

	r.remove = append(r.remove,
		src.AddTelemetryListener(r.onTelemetry),
		src.AddConfigurationListener(r.onConfiguration),
	)

	r.logger.Info("recording", slog.Int64("session", id))

	return nil
}

// Stop unsubscribes and waits for queued rows to be written.
func (r *Recorder) Stop() {
	for _, remove := range r.remove {
		remove()
	}
	r.remove = nil

	if r.cancel != nil {
		r.cancel()
	}

	r.wg.Wait()

	r.logger.Info("recording stopped", slog.Uint64("rows", r.written.Load()), slog.Uint64("dropped", r.dropped.Load()))
}

func (r *Recorder) SessionID() int64 {
	return r.sessionID
}

// Dropped counts telemetry discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) onTelemetry(t drone.TelemetryState) {
	select {
	case r.telemetryCh <- t:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) onConfiguration(c *drone.DroneConfiguration) {
	select {
	case r.configCh <- c:
	default:
		r.logger.Warn("configuration not recorded", slog.Uint64("revision", c.Revision()))
	}
}

func (r *Recorder) writer(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]drone.TelemetryState, 0, r.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}

		// written after cancellation too, so the tail of a flight is kept
		if err := r.store.StoreTelemetry(context.WithoutCancel(ctx), r.sessionID, batch); err != nil {
			r.logger.Error("store telemetry", slog.Any("error", err))
		} else {
			r.written.Add(uint64(len(batch)))
		}

		batch = batch[:0]
	}

	storeConfig := func(c *drone.DroneConfiguration) {
		if err := r.store.StoreConfiguration(context.WithoutCancel(ctx), r.sessionID, c); err != nil {
			r.logger.Error("store configuration", slog.Any("error", err))
		}
	}

	for {
		select {
		case t := <-r.telemetryCh:
			batch = append(batch, t)
			if len(batch) >= r.batchSize {
				flush()
			}
		case c := <-r.configCh:
			storeConfig(c)
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case t := <-r.telemetryCh:
					batch = append(batch, t)
				case c := <-r.configCh:
					storeConfig(c)
				default:
					flush()
					return
				}
			}
		}
	}
}
