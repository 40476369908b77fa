package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"dronecontrol/internal/config"
	"dronecontrol/internal/logging"
	"dronecontrol/internal/recorder"
	"dronecontrol/internal/relay"
	"dronecontrol/pkg/drone"
)

type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	logs    *LogBuffer
	drone   *drone.Controller
	rec     *recorder.Recorder
	hub     *relay.Hub
	srv     *http.Server
	closers []io.Closer

	snapshotDir string
}

func NewApp(cfg *config.Config, headless bool) (*App, error) {
	app := &App{cfg: cfg, logs: NewLogBuffer(200), snapshotDir: "."}

	var out io.Writer = os.Stdout
	if !headless {
		out = app.logs
	}

	logger, closer, err := logging.New(cfg.Logs, out)
	if err != nil {
		return nil, err
	}

	app.logger = logger
	app.closers = append(app.closers, closer)

	dcfg, err := cfg.DroneConfig()
	if err != nil {
		return nil, err
	}

	app.drone = drone.NewController(dcfg, drone.WithLogger(logger))

	return app, nil
}

// startExtras brings up the optional recorder and websocket relay.
func (app *App) startExtras(ctx context.Context) error {
	if r := app.cfg.Recorder; r.Enabled {
		store := recorder.NewSqliteStore(r.Path)
		app.closers = append(app.closers, store)

		app.rec = recorder.New(store,
			recorder.WithLogger(app.logger),
			recorder.WithBuffer(r.BufferSize, r.BatchSize),
			recorder.WithFlushInterval(r.FlushInterval))

		if err := app.rec.Start(ctx, app.drone, app.cfg.Drone.Address); err != nil {
			return fmt.Errorf("start recorder: %w", err)
		}
	}

	if r := app.cfg.Relay; r.Enabled {
		app.hub = relay.NewHub(relay.WithLogger(app.logger))
		app.hub.Attach(app.drone)

		app.srv = &http.Server{Addr: r.Listen, Handler: app.hub, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			app.logger.Info("relay listening", slog.String("addr", r.Listen))

			if err := app.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.logger.Error("relay stopped", slog.Any("error", err))
			}
		}()
	}

	return nil
}

func (app *App) shutdown() {
	app.drone.Stop()

	if app.rec != nil {
		app.rec.Stop()
	}

	if app.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = app.srv.Shutdown(ctx)
		cancel()
		app.hub.Close()
	}

	for _, c := range app.closers {
		if err := c.Close(); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

// RunHeadless logs telemetry until interrupted.
func (app *App) RunHeadless(ctx context.Context) error {
	if err := app.startExtras(ctx); err != nil {
		return err
	}
	defer app.shutdown()

	if err := app.drone.Start(ctx); err != nil {
		return err
	}

	var frames atomic.Uint64
	remove := app.drone.AddFrameListener(func(drone.Frame) { frames.Add(1) })
	defer remove()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if t, ok := app.drone.LatestTelemetry(); ok {
				app.logger.Info(t.String(),
					slog.String("state", app.drone.State().String()),
					slog.String("frames", humanize.Comma(int64(frames.Load()))))
			}
		}
	}
}

func main() {
	var (
		confPath = flag.String("config", "", "path to yaml config")
		addr     = flag.String("addr", "", "drone address, overrides config")
		headless = flag.Bool("headless", false, "no terminal ui, log to stdout")
	)

	flag.Parse()

	cfg, err := config.Load(*confPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *addr != "" {
		cfg.Drone.Address = *addr
	}

	app, err := NewApp(cfg, *headless)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *headless {
		err = app.RunHeadless(ctx)
	} else {
		err = app.Run(ctx)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
