package protocol

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str2byte(s string) []byte {
	r, _ := hex.DecodeString(s)
	return r
}

var packets = []string{
	// bootstrap: flying, command ack, emergency; no options but the checksum
	"88776655410000800100000000000000ffff08007c020000",
	// demo: flying + demo bit, battery 87%, theta -1500, phi 2500, psi 90000, alt 1234mm
	"88776655010400002a000000000000000000280000000200570000000080bbc400401c4500c8af47d204000000002041000000000000a0c0ffff08005f090000",
}

func TestParseBootstrap(t *testing.T) {
	var n NavData
	require.NoError(t, n.Unmarshal(str2byte(packets[0])))

	assert.Equal(t, uint32(1), n.Sequence)
	assert.True(t, n.Has(StateFlying))
	assert.True(t, n.Has(StateCommandAck))
	assert.True(t, n.Has(StateEmergency))
	assert.False(t, n.Has(StateBatteryLow))
	assert.Nil(t, n.Demo)
}

func TestParseDemo(t *testing.T) {
	var n NavData
	require.NoError(t, n.Unmarshal(str2byte(packets[1])))

	assert.Equal(t, uint32(42), n.Sequence)
	assert.True(t, n.Has(StateNavDataDemo))
	assert.False(t, n.Has(StateCommandAck))

	require.NotNil(t, n.Demo)
	assert.Equal(t, uint32(87), n.Demo.Battery)
	assert.Equal(t, float32(-1500), n.Demo.Theta)
	assert.Equal(t, float32(2500), n.Demo.Phi)
	assert.Equal(t, float32(90000), n.Demo.Psi)
	assert.Equal(t, int32(1234), n.Demo.Altitude)
	assert.Equal(t, float32(10), n.Demo.VX)
	assert.Equal(t, float32(-5), n.Demo.VZ)
}

func TestMarshalMatchesWire(t *testing.T) {
	n := &NavData{
		State:    0x00000401,
		Sequence: 42,
		Demo: &NavDataDemo{
			ControlState: 0x20000,
			Battery:      87,
			Theta:        -1500,
			Phi:          2500,
			Psi:          90000,
			Altitude:     1234,
			VX:           10,
			VZ:           -5,
		},
	}

	assert.Equal(t, str2byte(packets[1]), n.Marshal())
}

func TestParseErrors(t *testing.T) {
	var n NavData

	assert.Error(t, n.Unmarshal([]byte{0x88, 0x77}))
	assert.Error(t, n.Unmarshal(str2byte("11223344410000800100000000000000")))

	bad := str2byte(packets[0])
	bad[len(bad)-1] ^= 0xff
	assert.ErrorIs(t, n.Unmarshal(bad), ErrNavDataChecksum)

	// option claims more bytes than the packet holds
	truncated := str2byte("887766554100008001000000000000000000ff00")
	assert.Error(t, n.Unmarshal(truncated))
}
