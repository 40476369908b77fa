package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const NavDataHeader = 0x55667788

// Trigger is sent to the navdata and P264 video ports to start, and keep alive, a stream.
var Trigger = []byte{1, 0, 0, 0}

// Bits of the navdata state word.
const (
	StateFlying           uint32 = 1 << 0
	StateVideoEnabled     uint32 = 1 << 1
	StateControlAlgo      uint32 = 1 << 3
	StateCommandAck       uint32 = 1 << 6
	StateCameraReady      uint32 = 1 << 7
	StateNavDataDemo      uint32 = 1 << 10
	StateNavDataBootstrap uint32 = 1 << 11
	StateMotorsDown       uint32 = 1 << 12
	StateComLost          uint32 = 1 << 13
	StateBatteryLow       uint32 = 1 << 15
	StateComWatchdog      uint32 = 1 << 30
	StateEmergency        uint32 = 1 << 31
)

const (
	optionDemo     = 0
	optionChecksum = 0xffff

	headerSize     = 16
	optionHeader   = 4
	demoDataSize   = 36
	checksumOption = optionHeader + 4
)

var ErrNavDataChecksum = errors.New("navdata checksum mismatch")

// NavData is one telemetry packet. Demo is nil while the vehicle is in bootstrap mode.
type NavData struct {
	State    uint32
	Sequence uint32
	Vision   uint32
	Demo     *NavDataDemo
}

type NavDataDemo struct {
	ControlState uint32
	Battery      uint32  // percent
	Theta        float32 // pitch, millidegrees
	Phi          float32 // roll, millidegrees
	Psi          float32 // yaw, millidegrees
	Altitude     int32   // millimetres
	VX, VY, VZ   float32 // mm/s
}

func (n *NavData) Has(bit uint32) bool {
	return n.State&bit != 0
}

func (n *NavData) String() string {
	return fmt.Sprintf("seq: %d, state: %.8x, demo: %t", n.Sequence, n.State, n.Demo != nil)
}

// Marshal encodes n with a trailing checksum option.
func (n *NavData) Marshal() []byte {
	le := binary.LittleEndian

	size := headerSize + checksumOption
	if n.Demo != nil {
		size += optionHeader + demoDataSize
	}

	res := make([]byte, headerSize, size)
	le.PutUint32(res[0:], NavDataHeader)
	le.PutUint32(res[4:], n.State)
	le.PutUint32(res[8:], n.Sequence)
	le.PutUint32(res[12:], n.Vision)

	if d := n.Demo; d != nil {
		opt := make([]byte, optionHeader+demoDataSize)
		le.PutUint16(opt[0:], optionDemo)
		le.PutUint16(opt[2:], uint16(len(opt)))
		le.PutUint32(opt[4:], d.ControlState)
		le.PutUint32(opt[8:], d.Battery)
		le.PutUint32(opt[12:], math.Float32bits(d.Theta))
		le.PutUint32(opt[16:], math.Float32bits(d.Phi))
		le.PutUint32(opt[20:], math.Float32bits(d.Psi))
		le.PutUint32(opt[24:], uint32(d.Altitude))
		le.PutUint32(opt[28:], math.Float32bits(d.VX))
		le.PutUint32(opt[32:], math.Float32bits(d.VY))
		le.PutUint32(opt[36:], math.Float32bits(d.VZ))
		res = append(res, opt...)
	}

	csum := make([]byte, checksumOption)
	le.PutUint16(csum[0:], optionChecksum)
	le.PutUint16(csum[2:], checksumOption)
	le.PutUint32(csum[4:], checksum(res))

	return append(res, csum...)
}

func (n *NavData) Unmarshal(d []byte) error {
	le := binary.LittleEndian

	if len(d) < headerSize {
		return fmt.Errorf("invalid length: %d", len(d))
	}

	if h := le.Uint32(d[0:4]); h != NavDataHeader {
		return fmt.Errorf("invalid header: %.8x", h)
	}

	n.State = le.Uint32(d[4:8])
	n.Sequence = le.Uint32(d[8:12])
	n.Vision = le.Uint32(d[12:16])
	n.Demo = nil

	for off := headerSize; off+optionHeader <= len(d); {
		tag := le.Uint16(d[off:])
		size := int(le.Uint16(d[off+2:]))

		if size < optionHeader || off+size > len(d) {
			return fmt.Errorf("invalid option %.4x size %d at %d", tag, size, off)
		}

		data := d[off+optionHeader : off+size]

		switch tag {
		case optionDemo:
			if len(data) < demoDataSize {
				return fmt.Errorf("short demo option: %d", len(data))
			}
			n.Demo = &NavDataDemo{
				ControlState: le.Uint32(data[0:]),
				Battery:      le.Uint32(data[4:]),
				Theta:        math.Float32frombits(le.Uint32(data[8:])),
				Phi:          math.Float32frombits(le.Uint32(data[12:])),
				Psi:          math.Float32frombits(le.Uint32(data[16:])),
				Altitude:     int32(le.Uint32(data[20:])),
				VX:           math.Float32frombits(le.Uint32(data[24:])),
				VY:           math.Float32frombits(le.Uint32(data[28:])),
				VZ:           math.Float32frombits(le.Uint32(data[32:])),
			}
		case optionChecksum:
			if len(data) < 4 {
				return fmt.Errorf("short checksum option: %d", len(data))
			}
			if want, got := le.Uint32(data), checksum(d[:off]); want != got {
				return fmt.Errorf("%w: %.8x %.8x", ErrNavDataChecksum, want, got)
			}
			return nil
		}

		off += size
	}

	return nil
}

func checksum(d []byte) uint32 {
	var sum uint32
	for _, c := range d {
		sum += uint32(c)
	}
	return sum
}
