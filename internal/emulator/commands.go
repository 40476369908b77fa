package emulator

import (
	"context"
	"log/slog"
	"math"
	"strconv"

	"dronecontrol/pkg/protocol"
)

const (
	refTakeOff   = 1 << 9
	refEmergency = 1 << 8
)

func (e *Emulator) listenCommands(ctx context.Context) {
	buf := make([]byte, 4096)

	for ctx.Err() == nil {
		n, _, err := e.cmdConn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() == nil {
				e.logger.Error("command read", slog.Any("error", err))
			}
			return
		}

		lines, err := protocol.DecodeAT(buf[:n])
		if err != nil {
			e.logger.Warn("bad command", slog.Any("error", err))
		}

		for _, l := range lines {
			e.handle(l)
			e.record(l)
		}
	}
}

func (e *Emulator) record(l protocol.ATLine) {
	e.receivedMx.Lock()
	defer e.receivedMx.Unlock()

	e.received = append(e.received, l)
}

func (e *Emulator) handle(l protocol.ATLine) {
	switch l.Name {
	case "REF":
		flags, err := l.Int(0)
		if err != nil {
			e.logger.Warn("bad REF", slog.Any("error", err))
			return
		}
		e.handleRef(flags)

	case "PCMD":
		e.handleMove(l)

	case "CONFIG":
		if len(l.Args) < 2 {
			e.logger.Warn("bad CONFIG", slog.String("line", l.String()))
			return
		}
		e.WriteData(func(d *Data) {
			e.values[l.Args[0]] = l.Args[1]
			d.Ack = true
		})
		e.logger.Debug("config set", slog.String("key", l.Args[0]), slog.String("value", l.Args[1]))

	case "CTRL":
		mode, err := l.Int(0)
		if err != nil {
			e.logger.Warn("bad CTRL", slog.Any("error", err))
			return
		}

		switch protocol.ControlDataMode(mode) {
		case protocol.ResetAckFlag:
			e.WriteData(func(d *Data) { d.Ack = false })
		case protocol.GetControlData:
			e.WriteData(func(d *Data) { d.Ack = true })
			e.pushConfig()
		}

	case "FTRIM", "ANIM", "CONFIG_IDS", "COMWDG":
		e.logger.Debug("command", slog.String("line", l.String()))

	default:
		e.logger.Warn("unknown command", slog.String("line", l.String()))
	}
}

func (e *Emulator) handleRef(flags int64) {
	e.WriteData(func(d *Data) {
		switch {
		case flags&refEmergency != 0:
			if !d.Emergency {
				e.logger.Info("emergency")
			}
			d.Emergency = true
			d.Flying = false
			d.Altitude = 0
		case flags&refTakeOff != 0:
			if d.Emergency || d.Flying {
				return
			}
			e.logger.Info("take off")
			d.Flying = true
			d.Altitude = 1
		default:
			if d.Emergency {
				e.logger.Info("emergency reset")
				d.Emergency = false
			}
			if d.Flying {
				e.logger.Info("land")
			}
			d.Flying = false
			d.Altitude = 0
		}
	})
}

func (e *Emulator) handleMove(l protocol.ATLine) {
	if len(l.Args) < 5 {
		return
	}

	args := make([]float64, 4)
	for i := range args {
		v, err := strconv.ParseInt(l.Args[i+1], 10, 32)
		if err != nil {
			return
		}
		args[i] = float64(math.Float32frombits(uint32(int32(v))))
	}

	roll, pitch, gaz, yaw := args[0], args[1], args[2], args[3]

	e.WriteData(func(d *Data) {
		if !d.Flying {
			return
		}

		d.Roll = roll * 12
		d.Pitch = pitch * 12
		d.Yaw = math.Mod(d.Yaw+yaw*10+360, 360)
		d.Altitude = math.Max(0.3, d.Altitude+gaz*0.1)
		d.VX = -pitch * 1000
		d.VY = roll * 1000
		d.VZ = gaz * 500
	})
}
