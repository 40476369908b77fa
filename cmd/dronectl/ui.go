package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jroimartin/gocui"

	"dronecontrol/pkg/drone"
	"dronecontrol/pkg/protocol"
)

const stickSpeed = 0.3

type KeyBind struct {
	viewname string
	key      interface{}
	mod      gocui.Modifier
	handler  func(*gocui.Gui, *gocui.View) error
}

// Run starts the drone in the background and drives the terminal ui until quit.
func (app *App) Run(ctx context.Context) error {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return err
	}
	defer g.Close()

	g.SetManagerFunc(layout)

	if err := app.bindings(g); err != nil {
		return err
	}

	redraw := func() { app.redraw(g) }
	app.logs.SetCallback(redraw)

	if err := app.startExtras(ctx); err != nil {
		return err
	}
	defer app.shutdown()

	app.drone.AddTelemetryListener(func(_ drone.TelemetryState) { redraw() })
	app.drone.AddConfigurationListener(func(_ *drone.DroneConfiguration) { redraw() })
	app.drone.AddEmergencyListener(func(t drone.TelemetryState) {
		app.logger.Warn("EMERGENCY", slog.String("telemetry", t.String()))
	})

	go func() {
		if err := <-app.drone.StartAsync(ctx); err != nil {
			app.logger.Error("drone start failed", slog.Any("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		g.Update(func(*gocui.Gui) error { return gocui.ErrQuit })
	}()

	if err := g.MainLoop(); err != nil && !errors.Is(err, gocui.ErrQuit) {
		return err
	}

	return nil
}

func layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()

	views := []struct {
		name           string
		x0, y0, x1, y1 int
	}{
		{"info", 0, 0, maxX/2 - 1, maxY / 2},
		{"config", 0, maxY/2 + 1, maxX/2 - 1, maxY - 1},
		{"log", maxX / 2, 0, maxX - 1, maxY - 1},
	}

	for _, vv := range views {
		if v, err := g.SetView(vv.name, vv.x0, vv.y0, vv.x1, vv.y1); err != nil {
			if !errors.Is(err, gocui.ErrUnknownView) {
				return err
			}
			v.Frame = true
			v.Title = vv.name
			v.Wrap = vv.name == "log"
		}
	}

	return nil
}

func (app *App) bindings(g *gocui.Gui) error {
	bindings := []KeyBind{
		{"", gocui.KeyCtrlC, gocui.ModNone, quit},
		{"", 't', gocui.ModNone, app.intent("take off", app.drone.TakeOff)},
		{"", 'l', gocui.ModNone, app.intent("land", app.drone.Land)},
		{"", gocui.KeySpace, gocui.ModNone, app.intent("emergency", app.drone.Emergency)},
		{"", 'f', gocui.ModNone, app.intent("flat trim", app.drone.FlatTrim)},
		{"", 'h', gocui.ModNone, app.intent("hover", app.drone.Hover)},
		{"", 'w', gocui.ModNone, app.move(protocol.NewCommandBuilder().Up(stickSpeed))},
		{"", 's', gocui.ModNone, app.move(protocol.NewCommandBuilder().Down(stickSpeed))},
		{"", 'a', gocui.ModNone, app.move(protocol.NewCommandBuilder().Ccw(stickSpeed))},
		{"", 'd', gocui.ModNone, app.move(protocol.NewCommandBuilder().Cw(stickSpeed))},
		{"", gocui.KeyArrowUp, gocui.ModNone, app.move(protocol.NewCommandBuilder().Forward(stickSpeed))},
		{"", gocui.KeyArrowDown, gocui.ModNone, app.move(protocol.NewCommandBuilder().Back(stickSpeed))},
		{"", gocui.KeyArrowLeft, gocui.ModNone, app.move(protocol.NewCommandBuilder().Left(stickSpeed))},
		{"", gocui.KeyArrowRight, gocui.ModNone, app.move(protocol.NewCommandBuilder().Right(stickSpeed))},
		{"", '1', gocui.ModNone, app.animation(protocol.AnimFlipAhead)},
		{"", '2', gocui.ModNone, app.animation(protocol.AnimFlipBehind)},
		{"", '3', gocui.ModNone, app.animation(protocol.AnimFlipLeft)},
		{"", '4', gocui.ModNone, app.animation(protocol.AnimFlipRight)},
		{"", 'c', gocui.ModNone, app.intent("switch camera", func() error {
			return app.drone.SwitchCamera(protocol.CameraNext)
		})},
		{"", 'g', gocui.ModNone, app.intent("led animation", func() error {
			return app.drone.PlayLedAnimation(protocol.LedBlinkGreenRed, 2, 3)
		})},
		{"", 'r', gocui.ModNone, app.refresh},
		{"", 'p', gocui.ModNone, app.photo},
	}

	for _, b := range bindings {
		if err := g.SetKeybinding(b.viewname, b.key, b.mod, b.handler); err != nil {
			return err
		}
	}

	return nil
}

func quit(*gocui.Gui, *gocui.View) error {
	return gocui.ErrQuit
}

// intent runs fn and logs the failure; the ui keeps running either way.
func (app *App) intent(name string, fn func() error) func(*gocui.Gui, *gocui.View) error {
	return func(*gocui.Gui, *gocui.View) error {
		if err := fn(); err != nil {
			app.logger.Warn(name+" failed", slog.Any("error", err))
		}

		return nil
	}
}

func (app *App) move(b *protocol.CommandBuilder) func(*gocui.Gui, *gocui.View) error {
	m := b.Build()

	return app.intent("move", func() error {
		return app.drone.Move(m.Roll, m.Pitch, m.Yaw, m.VerticalSpeed)
	})
}

func (app *App) animation(kind protocol.FlightAnimation) func(*gocui.Gui, *gocui.View) error {
	return app.intent("animation", func() error {
		return app.drone.PlayFlightAnimation(kind)
	})
}

func (app *App) refresh(*gocui.Gui, *gocui.View) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), app.cfg.Drone.Timeouts.Config)
		defer cancel()

		if err := app.drone.RefreshConfiguration(ctx); err != nil {
			app.logger.Warn("refresh failed", slog.Any("error", err))
		}
	}()

	return nil
}

func (app *App) photo(*gocui.Gui, *gocui.View) error {
	f, ok := app.drone.LastFrame()
	if !ok {
		app.logger.Warn("no frame yet")
		return nil
	}

	name, err := saveSnapshot(app.snapshotDir, f)
	if err != nil {
		app.logger.Warn("snapshot failed", slog.Any("error", err))
		return nil
	}

	app.logger.Info("snapshot saved", slog.String("file", name))

	return nil
}

func (app *App) redraw(g *gocui.Gui) {
	g.Update(func(gui *gocui.Gui) error {
		if v, err := gui.View("info"); err == nil {
			v.Clear()
			app.drawInfo(v)
		}

		if v, err := gui.View("config"); err == nil {
			v.Clear()
			app.drawConfig(v)
		}

		if v, err := gui.View("log"); err == nil {
			v.Clear()
			_, size := v.Size()
			for _, l := range app.logs.GetLines(size) {
				fmt.Fprintln(v, l)
			}
		}

		return nil
	})
}

func (app *App) drawInfo(v *gocui.View) {
	state := app.drone.State().String()
	if app.drone.IsReady() {
		state = WithColors(state, FgGreen)
	} else {
		state = WithColors(state, FgYellow)
	}

	fmt.Fprintf(v, "state: %s version: %s\n", state, app.drone.DroneVersion())

	t, ok := app.drone.LatestTelemetry()
	if !ok {
		fmt.Fprintln(v, "no telemetry")
		return
	}

	fmt.Fprintf(v, "flying: %t emergency: %s\n", t.Flying, formatFlag(t.Emergency))
	fmt.Fprintf(v, "battery: %s low: %s\n", formatBattery(t.BatteryLevel), formatFlag(t.BatteryTooLow))
	fmt.Fprintf(v, "roll: %s pitch: %s yaw: %7.2f\n", formatGyro(t.Roll), formatGyro(t.Pitch), t.Yaw)
	fmt.Fprintf(v, "alt: %.2fm vx: %.0f vy: %.0f vz: %.0f\n", t.Altitude, t.VX, t.VY, t.VZ)
	fmt.Fprintf(v, "seq: %d, %s\n", t.Sequence, humanize.Time(t.Received))

	if f, ok := app.drone.LastFrame(); ok {
		fmt.Fprintf(v, "video: %s frame %d %dx%d, %s\n",
			f.Codec, f.Number, f.Width, f.Height, humanize.Bytes(uint64(len(f.Data))))
	}
}

func (app *App) drawConfig(v *gocui.View) {
	c := app.drone.DroneConfiguration()
	if c == nil {
		fmt.Fprintln(v, "no configuration")
		return
	}

	fmt.Fprintf(v, "revision %d, %d keys, firmware %s, received %s\n\n",
		c.Revision(), c.Len(), c.FirmwareVersion(), c.Received().Format(time.TimeOnly))

	values := c.Values()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(v, "%s = %s\n", k, values[k])
	}
}

func formatGyro(v float64) string {
	s := fmt.Sprintf("%7.2f", v)
	if v > -5 && v < 5 {
		return WithColors(s, FgGreen)
	}

	if v > -30 && v < 30 {
		return WithColors(s, FgYellow)
	}

	return WithColors(s, Bold, FgRed)
}

func formatBattery(level int) string {
	s := fmt.Sprintf("%d%%", level)
	switch {
	case level > 50:
		return WithColors(s, FgGreen)
	case level > 20:
		return WithColors(s, FgYellow)
	default:
		return WithColors(s, Bold, FgRed)
	}
}

func formatFlag(b bool) string {
	if b {
		return WithColors("yes", Bold, FgRed)
	}

	return "no"
}
