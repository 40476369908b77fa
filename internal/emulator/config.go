package emulator

import (
	"context"
	"io"
	"log/slog"
	"net"

	"dronecontrol/pkg/protocol"
)

func (e *Emulator) acceptConfig(ctx context.Context) {
	for ctx.Err() == nil {
		conn, err := e.cfgListener.Accept()
		if err != nil {
			if ctx.Err() == nil {
				e.logger.Error("config accept", slog.Any("error", err))
			}
			return
		}

		e.logger.Info("new config client", slog.String("addr", conn.RemoteAddr().String()))

		e.clientsMx.Lock()
		e.clients[conn] = struct{}{}
		pending := e.pendingDump
		e.pendingDump = false
		e.clientsMx.Unlock()

		if pending {
			e.writeDump(conn)
		}

		e.run(ctx, func(context.Context) { e.drainConfigClient(conn) })
	}
}

// drainConfigClient waits for the client to go away.
func (e *Emulator) drainConfigClient(conn net.Conn) {
	_, _ = io.Copy(io.Discard, conn)

	e.clientsMx.Lock()
	delete(e.clients, conn)
	e.clientsMx.Unlock()

	_ = conn.Close()
}

// pushConfig sends the dump to every config client, or to the next one to connect.
func (e *Emulator) pushConfig() {
	e.clientsMx.Lock()
	conns := make([]net.Conn, 0, len(e.clients))
	for c := range e.clients {
		conns = append(conns, c)
	}
	if len(conns) == 0 {
		e.pendingDump = true
	}
	e.clientsMx.Unlock()

	for _, c := range conns {
		e.writeDump(c)
	}
}

func (e *Emulator) writeDump(conn net.Conn) {
	e.mx.RLock()
	dump := protocol.FormatConfig(e.values)
	e.mx.RUnlock()

	if _, err := conn.Write(dump); err != nil {
		e.logger.Warn("config write", slog.Any("error", err))
	}
}
