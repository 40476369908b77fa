package drone

import (
	"context"
	"encoding/binary"
	"errors"
	"image"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronecontrol/pkg/protocol"
)

func TestNewVideoReceiverPicksTransport(t *testing.T) {
	cfg := testConfig()

	cfg.Version = ARDrone1
	assert.IsType(t, &P264Receiver{}, NewVideoReceiver(cfg))
	assert.Equal(t, codecP264, NewVideoReceiver(cfg).Codec())

	cfg.Version = ARDrone2
	assert.IsType(t, &H264Receiver{}, NewVideoReceiver(cfg))
}

func TestH264SkipsToKeyFrame(t *testing.T) {
	l, conns := tcpPeer(t)

	cfg := testConfig()
	cfg.VideoPort = l.Addr().(*net.TCPAddr).Port

	decoded := make(chan []byte, 4)
	decoder := DecoderFunc(func(codec string, unit []byte) (image.Image, error) {
		if unit[4] == 0xff {
			return nil, errors.New("corrupt")
		}
		decoded <- unit
		return image.NewGray(image.Rect(0, 0, 2, 2)), nil
	})

	v := NewH264Receiver(cfg, WithDecoder(decoder))
	frames := make(chan Frame, 4)
	v.AddFrameListener(func(f Frame) { frames <- f })

	require.NoError(t, v.Start(context.Background()))
	t.Cleanup(v.Stop)

	conn := <-conns

	for _, u := range []struct {
		n       uint32
		typ     uint8
		payload []byte
	}{
		{1, protocol.FrameP, []byte{0, 0, 0, 1, 0x41}},
		{2, protocol.FrameIDR, []byte{0, 0, 0, 1, 0x65}},
		{3, protocol.FrameP, []byte{0, 0, 0, 1, 0xff}},
		{4, protocol.FrameP, []byte{0, 0, 0, 1, 0x41}},
	} {
		h := &protocol.PaVE{Codec: protocol.CodecH264, FrameNumber: u.n, FrameType: u.typ, DisplayWidth: 640, DisplayHeight: 360}
		_, err := conn.Write(h.Marshal(u.payload))
		require.NoError(t, err)
	}

	var got []Frame
	for len(got) < 2 {
		select {
		case f := <-frames:
			got = append(got, f)
		case <-time.After(time.Second):
			t.Fatalf("only %d frames", len(got))
		}
	}

	assert.Equal(t, uint32(2), got[0].Number)
	assert.True(t, got[0].KeyFrame)
	assert.NotNil(t, got[0].Image)
	assert.Equal(t, uint32(4), got[1].Number)
	assert.Equal(t, uint64(2), v.dropped.Load())

	last, ok := v.LastFrame()
	require.True(t, ok)
	assert.Equal(t, uint32(4), last.Number)
	assert.Len(t, decoded, 2)
}

func TestH264SkipsOversizedUnit(t *testing.T) {
	l, conns := tcpPeer(t)

	cfg := testConfig()
	cfg.VideoPort = l.Addr().(*net.TCPAddr).Port

	v := NewH264Receiver(cfg)
	frames := make(chan Frame, 4)
	v.AddFrameListener(func(f Frame) { frames <- f })

	require.NoError(t, v.Start(context.Background()))
	t.Cleanup(v.Stop)

	conn := <-conns

	bad := (&protocol.PaVE{Codec: protocol.CodecH264, FrameNumber: 2, FrameType: protocol.FrameIDR}).Marshal(nil)
	binary.LittleEndian.PutUint32(bad[8:], 0xFFFFFFF0)

	var stream []byte
	stream = append(stream, (&protocol.PaVE{Codec: protocol.CodecH264, FrameNumber: 1, FrameType: protocol.FrameIDR}).Marshal([]byte{0, 0, 0, 1, 0x65})...)
	stream = append(stream, bad...)
	stream = append(stream, (&protocol.PaVE{Codec: protocol.CodecH264, FrameNumber: 3, FrameType: protocol.FrameP}).Marshal([]byte{0, 0, 0, 1, 0x41})...)

	_, err := conn.Write(stream)
	require.NoError(t, err)

	var got []uint32
	for len(got) < 2 {
		select {
		case f := <-frames:
			got = append(got, f.Number)
		case <-time.After(time.Second):
			t.Fatalf("only %d frames", len(got))
		}
	}

	assert.Equal(t, []uint32{1, 3}, got)
	assert.Equal(t, uint64(1), v.dropped.Load())
}

func TestP264Datagrams(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	cfg := testConfig()
	cfg.VideoPort = conn.LocalAddr().(*net.UDPAddr).Port

	v := NewP264Receiver(cfg)

	ready := make(chan ReadyState, 1)
	v.AddReadyStateListener(func(s ReadyState) { ready <- s })

	require.NoError(t, v.Start(context.Background()))
	t.Cleanup(v.Stop)

	buf := make([]byte, 16)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	n, addr, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, protocol.Trigger, buf[:n])

	_, err = conn.WriteToUDP([]byte{0, 0, 0x80, 0, 1}, addr)
	require.NoError(t, err)

	select {
	case s := <-ready:
		assert.Equal(t, Ready, s)
	case <-time.After(time.Second):
		t.Fatal("video never ready")
	}

	f, ok := v.LastFrame()
	require.True(t, ok)
	assert.Equal(t, []byte{0, 0, 0x80, 0, 1}, f.Data)
	assert.Nil(t, f.Image)
}
