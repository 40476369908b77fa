package emulator

import (
	"context"
	"log/slog"
	"time"

	"dronecontrol/pkg/protocol"
)

func (e *Emulator) listenNavData(ctx context.Context) {
	buf := make([]byte, 64)

	for ctx.Err() == nil {
		_, addr, err := e.navConn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() == nil {
				e.logger.Error("navdata read", slog.Any("error", err))
			}
			return
		}

		if old := e.navAddr.Swap(addr); old == nil || old.String() != addr.String() {
			e.logger.Info("new navdata client", slog.String("addr", addr.String()))
		}
	}
}

func (e *Emulator) navDataSender(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.NavDataInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			addr := e.navAddr.Load()
			if addr == nil {
				continue
			}

			if _, err := e.navConn.WriteToUDP(e.makeNavData().Marshal(), addr); err != nil && ctx.Err() == nil {
				e.logger.Warn("navdata write", slog.Any("error", err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func (e *Emulator) makeNavData() *protocol.NavData {
	e.mx.Lock()
	defer e.mx.Unlock()

	e.seq++
	d := e.data

	n := &protocol.NavData{Sequence: e.seq}

	set := func(bit uint32, on bool) {
		if on {
			n.State |= bit
		}
	}

	set(protocol.StateFlying, d.Flying)
	set(protocol.StateEmergency, d.Emergency)
	set(protocol.StateBatteryLow, d.BatteryLow || d.Battery < 20)
	set(protocol.StateCommandAck, d.Ack)

	if e.values["general:navdata_demo"] != "TRUE" {
		set(protocol.StateNavDataBootstrap, true)
		return n
	}

	set(protocol.StateNavDataDemo, true)

	n.Demo = &protocol.NavDataDemo{
		Battery:  uint32(d.Battery),
		Theta:    float32(d.Pitch * 1000),
		Phi:      float32(d.Roll * 1000),
		Psi:      float32(d.Yaw * 1000),
		Altitude: int32(d.Altitude * 1000),
		VX:       float32(d.VX),
		VY:       float32(d.VY),
		VZ:       float32(d.VZ),
	}

	return n
}
