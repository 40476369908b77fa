// navdump prints every navdata packet the drone sends, without taking control of it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"dronecontrol/pkg/drone"
)

func printer(asJSON bool) func(drone.TelemetryState) {
	enc := json.NewEncoder(os.Stdout)

	return func(t drone.TelemetryState) {
		if asJSON {
			_ = enc.Encode(t)
			return
		}

		fmt.Printf("%6d %08x %s roll %.2f pitch %.2f yaw %.2f\n", t.Sequence, t.State, t, t.Roll, t.Pitch, t.Yaw)
	}
}

func main() {
	cfg := drone.DefaultConfig()

	flag.StringVar(&cfg.Address, "addr", cfg.Address, "drone address")
	flag.IntVar(&cfg.NavDataPort, "port", cfg.NavDataPort, "navdata port")
	asJSON := flag.Bool("json", false, "print json lines")

	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	r := drone.NewTelemetryReceiver(cfg, drone.WithLogger(logger))
	r.AddTelemetryListener(printer(*asJSON))
	r.AddReadyStateListener(func(s drone.ReadyState) {
		logger.Info("navdata " + s.String())
		if s == drone.NotReady {
			cancel()
		}
	})

	if err := r.Start(ctx); err != nil {
		logger.Error("start failed", slog.Any("error", err))
		os.Exit(1)
	}

	<-ctx.Done()
	r.Stop()
}
