package drone

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"dronecontrol/pkg/protocol"
)

const (
	codecH264 = "h264"
	codecP264 = "p264"

	videoStatsInterval = 10 * time.Second
)

// Frame is one decoded video unit. Image is nil when the decoder produces no picture.
type Frame struct {
	Number    uint32
	Timestamp time.Duration
	Width     int
	Height    int
	KeyFrame  bool
	Codec     string
	Data      []byte
	Image     image.Image
}

// Decoder turns an encoded unit into a picture.
type Decoder interface {
	Decode(codec string, unit []byte) (image.Image, error)
}

type DecoderFunc func(codec string, unit []byte) (image.Image, error)

func (f DecoderFunc) Decode(codec string, unit []byte) (image.Image, error) {
	return f(codec, unit)
}

type passthroughDecoder struct{}

func (passthroughDecoder) Decode(string, []byte) (image.Image, error) {
	return nil, nil
}

// VideoReceiver delivers frames from the video channel.
type VideoReceiver interface {
	Start(ctx context.Context) error
	Stop()
	Codec() string
	LastFrame() (Frame, bool)
	AddReadyStateListener(fn func(ReadyState)) (remove func())
	AddFrameListener(fn func(Frame)) (remove func())
}

// NewVideoReceiver picks the transport for the vehicle generation.
func NewVideoReceiver(cfg Config, opts ...Option) VideoReceiver {
	if cfg.Version == ARDrone1 {
		return NewP264Receiver(cfg, opts...)
	}

	return NewH264Receiver(cfg, opts...)
}

type videoBase struct {
	readyStateComponent

	cfg     Config
	logger  *slog.Logger
	decoder Decoder
	codec   string

	frames    Listeners[Frame]
	last      atomic.Pointer[Frame]
	readyOnce sync.Once
	bytes     atomic.Uint64
	count     atomic.Uint64
	dropped   atomic.Uint64

	cancel  context.CancelFunc
	running atomic.Bool
}

func newVideoBase(cfg Config, codec string, opts []Option) *videoBase {
	s := newSettings(opts)

	return &videoBase{
		cfg:     cfg,
		logger:  s.workerLogger(workerVideo).With(slog.String("codec", codec)),
		decoder: s.decoder,
		codec:   codec,
	}
}

func (v *videoBase) Codec() string {
	return v.codec
}

func (v *videoBase) LastFrame() (Frame, bool) {
	if f := v.last.Load(); f != nil {
		return *f, true
	}

	return Frame{}, false
}

func (v *videoBase) AddFrameListener(fn func(Frame)) (remove func()) {
	return v.frames.Add(fn)
}

func (v *videoBase) Stop() {
	if v.cancel != nil {
		v.cancel()
	}
}

func (v *videoBase) publish(f Frame) {
	v.bytes.Add(uint64(len(f.Data)))

	img, err := v.decoder.Decode(f.Codec, f.Data)
	if err != nil {
		v.dropped.Add(1)
		v.logger.Warn("decode failed", slog.Uint64("frame", uint64(f.Number)), slog.Any("error", err))
		return
	}

	f.Image = img
	v.count.Add(1)
	v.last.Store(&f)

	v.readyOnce.Do(func() {
		v.logger.Info("first frame decoded", slog.Int("width", f.Width), slog.Int("height", f.Height))
		v.emitReadyState(Ready)
	})

	v.frames.Emit(f)
}

func (v *videoBase) logStats() {
	v.logger.Info("video stats",
		slog.String("received", humanize.Bytes(v.bytes.Load())),
		slog.String("frames", humanize.Comma(int64(v.count.Load()))),
		slog.Uint64("dropped", v.dropped.Load()))
}

// H264Receiver reads PaVE framed H.264 units from the TCP video channel.
type H264Receiver struct {
	*videoBase
	conn atomic.Pointer[net.TCPConn]
}

func NewH264Receiver(cfg Config, opts ...Option) *H264Receiver {
	return &H264Receiver{videoBase: newVideoBase(cfg, codecH264, opts)}
}

func (v *H264Receiver) Start(ctx context.Context) error {
	if !v.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	conn, err := dialTCP(v.cfg.addr(v.cfg.VideoPort), v.cfg.DialTimeout)
	if err != nil {
		v.running.Store(false)
		return fmt.Errorf("video channel: %w", err)
	}

	v.conn.Store(conn)

	ctx, v.cancel = context.WithCancel(ctx)

	go v.reader(ctx, conn)
	go periodical(ctx, videoStatsInterval, v.logStats)

	return nil
}

func (v *H264Receiver) Stop() {
	v.videoBase.Stop()

	if conn := v.conn.Swap(nil); conn != nil {
		_ = conn.Close()
	}
}

func (v *H264Receiver) reader(ctx context.Context, conn *net.TCPConn) {
	defer v.emitReadyState(NotReady)

	rd := bufio.NewReaderSize(conn, 64*1024)
	started := false

	for ctx.Err() == nil {
		h, payload, err := protocol.ReadPaVE(rd)
		if errors.Is(err, protocol.ErrPaVEHeader) {
			v.logger.Warn("skipping unit", slog.Any("error", err))
			v.dropped.Add(1)
			continue
		}

		if err != nil {
			if ctx.Err() == nil {
				v.logger.Error("read failed", slog.Any("error", err))
			}
			return
		}

		// a decoder cannot start on a predicted frame
		if !started && !h.KeyFrame() {
			v.dropped.Add(1)
			continue
		}
		started = true

		v.publish(Frame{
			Number:    h.FrameNumber,
			Timestamp: time.Duration(h.Timestamp) * time.Millisecond,
			Width:     int(h.DisplayWidth),
			Height:    int(h.DisplayHeight),
			KeyFrame:  h.KeyFrame(),
			Codec:     codecH264,
			Data:      payload,
		})
	}
}

// P264Receiver reads P264 units from the UDP video channel, one unit per datagram.
type P264Receiver struct {
	*videoBase
	conn atomic.Pointer[net.UDPConn]
}

func NewP264Receiver(cfg Config, opts ...Option) *P264Receiver {
	return &P264Receiver{videoBase: newVideoBase(cfg, codecP264, opts)}
}

func (v *P264Receiver) Start(ctx context.Context) error {
	if !v.running.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	conn, err := dialUDP(v.cfg.addr(v.cfg.VideoPort))
	if err != nil {
		v.running.Store(false)
		return fmt.Errorf("video channel: %w", err)
	}

	v.conn.Store(conn)

	ctx, v.cancel = context.WithCancel(ctx)

	v.trigger()
	go v.reader(ctx, conn)
	go periodical(ctx, videoStatsInterval, v.logStats)

	if v.cfg.KeepAliveInterval > 0 {
		go periodical(ctx, v.cfg.KeepAliveInterval, v.trigger)
	}

	return nil
}

func (v *P264Receiver) Stop() {
	v.videoBase.Stop()

	if conn := v.conn.Swap(nil); conn != nil {
		_ = conn.Close()
	}
}

func (v *P264Receiver) trigger() {
	if conn := v.conn.Load(); conn != nil {
		if _, err := conn.Write(protocol.Trigger); err != nil {
			v.logger.Warn("trigger", slog.Any("error", err))
		}
	}
}

func (v *P264Receiver) reader(ctx context.Context, conn *net.UDPConn) {
	defer v.emitReadyState(NotReady)

	buf := make([]byte, 64*1024)
	start := time.Now()

	var n uint32

	for ctx.Err() == nil {
		size, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() == nil {
				v.logger.Error("read failed", slog.Any("error", err))
			}
			return
		}

		unit := make([]byte, size)
		copy(unit, buf[:size])

		n++
		v.publish(Frame{
			Number:    n,
			Timestamp: time.Since(start),
			Width:     320,
			Height:    240,
			KeyFrame:  true,
			Codec:     codecP264,
			Data:      unit,
		})
	}
}
