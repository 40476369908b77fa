package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// PaVE ("Parrot Video Encapsulation") frames every H.264 unit on the ARDrone2 video port.
const PaVESignature = "PaVE"

const (
	PaVEHeaderSize = 64
	paveMinHeader  = 32
	paveMaxHeader  = 256

	// largest unit accepted; real H.264 units are a few tens of KiB
	paveMaxPayload = 1 << 20
)

// ErrPaVEHeader marks a header whose sizes cannot be right. The bytes
// after it may still hold valid units.
var ErrPaVEHeader = errors.New("invalid PaVE header")

const (
	CodecP264 = 1
	CodecH264 = 4
)

const (
	FrameIDR = 1
	FrameI   = 2
	FrameP   = 3
)

type PaVE struct {
	Version       uint8
	Codec         uint8
	HeaderSize    uint16
	PayloadSize   uint32
	EncodedWidth  uint16
	EncodedHeight uint16
	DisplayWidth  uint16
	DisplayHeight uint16
	FrameNumber   uint32
	Timestamp     uint32 // ms
	TotalChunks   uint8
	ChunkIndex    uint8
	FrameType     uint8
	Control       uint8
}

func (p *PaVE) KeyFrame() bool {
	return p.FrameType == FrameIDR || p.FrameType == FrameI
}

func (p *PaVE) String() string {
	return fmt.Sprintf("frame %d type %d %dx%d, %d bytes", p.FrameNumber, p.FrameType, p.DisplayWidth, p.DisplayHeight, p.PayloadSize)
}

// Marshal frames payload behind a full-size header.
func (p *PaVE) Marshal(payload []byte) []byte {
	le := binary.LittleEndian

	res := make([]byte, PaVEHeaderSize, PaVEHeaderSize+len(payload))
	copy(res, PaVESignature)
	res[4] = p.Version
	res[5] = p.Codec
	le.PutUint16(res[6:], PaVEHeaderSize)
	le.PutUint32(res[8:], uint32(len(payload)))
	le.PutUint16(res[12:], p.EncodedWidth)
	le.PutUint16(res[14:], p.EncodedHeight)
	le.PutUint16(res[16:], p.DisplayWidth)
	le.PutUint16(res[18:], p.DisplayHeight)
	le.PutUint32(res[20:], p.FrameNumber)
	le.PutUint32(res[24:], p.Timestamp)
	res[28] = p.TotalChunks
	res[29] = p.ChunkIndex
	res[30] = p.FrameType
	res[31] = p.Control
	le.PutUint32(res[48:], uint32(len(payload)))

	return append(res, payload...)
}

// ReadPaVE reads the next unit from r, discarding bytes until a signature is found.
func ReadPaVE(r *bufio.Reader) (*PaVE, []byte, error) {
	if err := syncSignature(r); err != nil {
		return nil, nil, err
	}

	le := binary.LittleEndian

	head := make([]byte, 12)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, nil, err
	}

	p := &PaVE{
		Version:     head[4],
		Codec:       head[5],
		HeaderSize:  le.Uint16(head[6:]),
		PayloadSize: le.Uint32(head[8:]),
	}

	if p.HeaderSize < paveMinHeader || p.HeaderSize > paveMaxHeader {
		return nil, nil, fmt.Errorf("%w: header size %d", ErrPaVEHeader, p.HeaderSize)
	}

	if p.PayloadSize > paveMaxPayload {
		return nil, nil, fmt.Errorf("%w: payload size %d", ErrPaVEHeader, p.PayloadSize)
	}

	rest := make([]byte, int(p.HeaderSize)-len(head))
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, nil, err
	}

	// offsets in rest are 12 less than in the full header
	p.EncodedWidth = le.Uint16(rest[0:])
	p.EncodedHeight = le.Uint16(rest[2:])
	p.DisplayWidth = le.Uint16(rest[4:])
	p.DisplayHeight = le.Uint16(rest[6:])
	p.FrameNumber = le.Uint32(rest[8:])
	p.Timestamp = le.Uint32(rest[12:])
	p.TotalChunks = rest[16]
	p.ChunkIndex = rest[17]
	p.FrameType = rest[18]
	p.Control = rest[19]

	payload := make([]byte, p.PayloadSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, nil, err
	}

	return p, payload, nil
}

func syncSignature(r *bufio.Reader) error {
	sig := []byte(PaVESignature)

	for {
		b, err := r.Peek(len(sig))
		if err != nil {
			return err
		}

		if bytes.Equal(b, sig) {
			return nil
		}

		if _, err := r.Discard(1); err != nil {
			return err
		}
	}
}
