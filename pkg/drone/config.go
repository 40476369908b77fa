package drone

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"dronecontrol/pkg/protocol"
)

// DroneVersion selects the video transport.
type DroneVersion string

const (
	ARDrone1 DroneVersion = "ardrone1"
	ARDrone2 DroneVersion = "ardrone2"
)

func ParseDroneVersion(s string) (DroneVersion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ardrone1", "1":
		return ARDrone1, nil
	case "ardrone2", "2", "":
		return ARDrone2, nil
	default:
		return "", fmt.Errorf("unknown drone version %q", s)
	}
}

// Default ids written during login.
const (
	DefaultSessionID     = "d2e081a3"
	DefaultProfileID     = "be27e2e4"
	DefaultApplicationID = "d87f7e0c"
)

type Config struct {
	Address string

	CommandPort int
	NavDataPort int
	VideoPort   int
	ConfigPort  int

	Version DroneVersion

	SessionID     string
	ProfileID     string
	ApplicationID string

	// PollInterval bounds how long a wait goes without re-checking its condition.
	PollInterval time.Duration
	DialTimeout  time.Duration
	// ConfigReadTimeout is the silence on the config channel that ends a dump.
	ConfigReadTimeout time.Duration
	HandshakeTimeout  time.Duration
	ReadyTimeout      time.Duration
	ConfigTimeout     time.Duration
	// KeepAliveInterval paces navdata triggers and command watchdog resets. Zero disables them.
	KeepAliveInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Address:           "192.168.1.1",
		CommandPort:       5556,
		NavDataPort:       5554,
		VideoPort:         5555,
		ConfigPort:        5559,
		Version:           ARDrone2,
		SessionID:         DefaultSessionID,
		ProfileID:         DefaultProfileID,
		ApplicationID:     DefaultApplicationID,
		PollInterval:      15 * time.Millisecond,
		DialTimeout:       3 * time.Second,
		ConfigReadTimeout: 300 * time.Millisecond,
		HandshakeTimeout:  5 * time.Second,
		ReadyTimeout:      10 * time.Second,
		ConfigTimeout:     10 * time.Second,
		KeepAliveInterval: time.Second,
	}
}

func (c Config) addr(port int) string {
	return net.JoinHostPort(c.Address, strconv.Itoa(port))
}

func (c Config) checksums() protocol.Checksums {
	return protocol.Checksums{
		Session:     c.SessionID,
		Profile:     c.ProfileID,
		Application: c.ApplicationID,
	}
}
