package emulator

import (
	"context"
	"log/slog"
	"net"
	"time"

	"dronecontrol/pkg/protocol"
)

const keyFrameEvery = 15

func (e *Emulator) acceptVideo(ctx context.Context) {
	for ctx.Err() == nil {
		conn, err := e.videoListener.Accept()
		if err != nil {
			if ctx.Err() == nil {
				e.logger.Error("video accept", slog.Any("error", err))
			}
			return
		}

		e.logger.Info("new video client", slog.String("addr", conn.RemoteAddr().String()))

		e.clientsMx.Lock()
		e.clients[conn] = struct{}{}
		e.clientsMx.Unlock()

		e.run(ctx, func(ctx context.Context) { e.streamH264(ctx, conn) })
	}
}

// streamH264 writes PaVE units. The stream opens on a predicted frame, the
// way a client joining mid-GOP sees it.
func (e *Emulator) streamH264(ctx context.Context, conn net.Conn) {
	defer func() {
		e.clientsMx.Lock()
		delete(e.clients, conn)
		e.clientsMx.Unlock()

		_ = conn.Close()
	}()

	ticker := time.NewTicker(e.cfg.VideoInterval)
	defer ticker.Stop()

	start := time.Now()

	for n := uint32(keyFrameEvery - 1); ; n++ {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}

		h := &protocol.PaVE{
			Version:       3,
			Codec:         protocol.CodecH264,
			EncodedWidth:  640,
			EncodedHeight: 368,
			DisplayWidth:  640,
			DisplayHeight: 360,
			FrameNumber:   n,
			Timestamp:     uint32(time.Since(start).Milliseconds()),
			TotalChunks:   1,
			FrameType:     protocol.FrameP,
		}

		payload := []byte{0, 0, 0, 1, 0x41, 0x9a, byte(n)}
		if n%keyFrameEvery == 0 {
			h.FrameType = protocol.FrameIDR
			payload = []byte{0, 0, 0, 1, 0x67, 0x42, 0, 0x1e, 0, 0, 0, 1, 0x65, 0x88, byte(n)}
		}

		if _, err := conn.Write(h.Marshal(payload)); err != nil {
			if ctx.Err() == nil {
				e.logger.Info("video client gone", slog.Any("error", err))
			}
			return
		}
	}
}

func (e *Emulator) listenP264(ctx context.Context) {
	buf := make([]byte, 64)

	for ctx.Err() == nil {
		_, addr, err := e.videoConn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() == nil {
				e.logger.Error("video read", slog.Any("error", err))
			}
			return
		}

		if old := e.videoAddr.Swap(addr); old == nil {
			e.logger.Info("new video client", slog.String("addr", addr.String()))
		}
	}
}

func (e *Emulator) p264Sender(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.VideoInterval)
	defer ticker.Stop()

	var n byte

	for {
		select {
		case <-ticker.C:
			addr := e.videoAddr.Load()
			if addr == nil {
				continue
			}

			n++
			// picture start code followed by a counter
			unit := []byte{0, 0, 0x80, 0, n, 0xde, 0xad, 0xbe, 0xef}

			if _, err := e.videoConn.WriteToUDP(unit, addr); err != nil && ctx.Err() == nil {
				e.logger.Warn("video write", slog.Any("error", err))
			}
		case <-ctx.Done():
			return
		}
	}
}
