package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dronecontrol/internal/emulator"
)

// drain slowly empties the battery while flying so the low battery flag shows up.
func drain(ctx context.Context, e *emulator.Emulator) {
	ticker := time.NewTicker(time.Second * 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.WriteData(func(d *emulator.Data) {
				if d.Flying && d.Battery > 0 {
					d.Battery--
				}
				d.BatteryLow = d.Battery < 20
			})
		}
	}
}

func main() {
	cfg := emulator.DefaultConfig()

	flag.StringVar(&cfg.Host, "host", cfg.Host, "address to listen on")
	flag.StringVar(&cfg.Version, "version", cfg.Version, "ardrone1 or ardrone2")
	flag.DurationVar(&cfg.NavDataInterval, "navdata", cfg.NavDataInterval, "navdata send interval")
	debug := flag.Bool("debug", false, "log every received command")

	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	e := emulator.New(cfg, emulator.WithLogger(logger))
	if err := e.Start(ctx); err != nil {
		logger.Error("start failed", slog.Any("error", err))
		os.Exit(1)
	}

	go drain(ctx, e)

	<-ctx.Done()
	e.Stop()
}
