package drone

import (
	"time"

	"github.com/mohae/deepcopy"

	"dronecontrol/pkg/protocol"
)

const (
	KeySessionID       = "custom:session_id"
	KeyProfileID       = "custom:profile_id"
	KeyApplicationID   = "custom:application_id"
	KeyNavDataDemo     = "general:navdata_demo"
	KeyFirmwareVersion = "general:num_version_soft"
)

// DroneConfiguration is one configuration dump. It is never modified after
// creation; a newer dump replaces it as a whole.
type DroneConfiguration struct {
	values   map[string]string
	revision uint64
	received time.Time
}

func NewDroneConfiguration(values map[string]string) *DroneConfiguration {
	return newDroneConfiguration(values, 0, time.Now())
}

func newDroneConfiguration(values map[string]string, revision uint64, received time.Time) *DroneConfiguration {
	if values == nil {
		values = map[string]string{}
	}

	return &DroneConfiguration{
		values:   deepcopy.Copy(values).(map[string]string),
		revision: revision,
		received: received,
	}
}

// Values returns a copy of every key.
func (c *DroneConfiguration) Values() map[string]string {
	return deepcopy.Copy(c.values).(map[string]string)
}

func (c *DroneConfiguration) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

func (c *DroneConfiguration) Len() int {
	return len(c.values)
}

// Revision counts dumps received in the session, starting at 1.
func (c *DroneConfiguration) Revision() uint64 {
	return c.revision
}

func (c *DroneConfiguration) Received() time.Time {
	return c.received
}

func (c *DroneConfiguration) SessionChecksum() string {
	return c.values[KeySessionID]
}

func (c *DroneConfiguration) ProfileChecksum() string {
	return c.values[KeyProfileID]
}

func (c *DroneConfiguration) ApplicationChecksum() string {
	return c.values[KeyApplicationID]
}

func (c *DroneConfiguration) Checksums() protocol.Checksums {
	return protocol.Checksums{
		Session:     c.SessionChecksum(),
		Profile:     c.ProfileChecksum(),
		Application: c.ApplicationChecksum(),
	}
}

func (c *DroneConfiguration) FirmwareVersion() string {
	return c.values[KeyFirmwareVersion]
}
