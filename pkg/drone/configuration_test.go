package drone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDroneConfigurationIsImmutable(t *testing.T) {
	src := map[string]string{KeySessionID: "d2e081a3", KeyFirmwareVersion: "2.4.8"}
	c := NewDroneConfiguration(src)

	src[KeySessionID] = "changed"
	values := c.Values()
	values[KeyFirmwareVersion] = "changed"

	assert.Equal(t, "d2e081a3", c.SessionChecksum())
	assert.Equal(t, "2.4.8", c.FirmwareVersion())
	assert.Equal(t, 2, c.Len())
}

func TestDroneConfigurationAccessors(t *testing.T) {
	c := NewDroneConfiguration(map[string]string{
		KeySessionID:     "s",
		KeyProfileID:     "p",
		KeyApplicationID: "a",
	})

	ids := c.Checksums()
	assert.Equal(t, "s", ids.Session)
	assert.Equal(t, "p", ids.Profile)
	assert.Equal(t, "a", ids.Application)

	_, ok := c.Get("missing")
	assert.False(t, ok)
	assert.Empty(t, c.FirmwareVersion())

	assert.Zero(t, NewDroneConfiguration(nil).Len())
}

func TestParseDroneVersion(t *testing.T) {
	for in, want := range map[string]DroneVersion{"ardrone1": ARDrone1, "1": ARDrone1, "ARDrone2": ARDrone2, "": ARDrone2} {
		v, err := ParseDroneVersion(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, v, in)
	}

	_, err := ParseDroneVersion("bebop")
	assert.Error(t, err)
}
