package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"dronecontrol/pkg/drone"
)

type Config struct {
	Drone    DroneConfig    `yaml:"drone"`
	Logs     LogConfig      `yaml:"logs"`
	Recorder RecorderConfig `yaml:"recorder"`
	Relay    RelayConfig    `yaml:"relay"`
}

type DroneConfig struct {
	Address       string         `yaml:"address"`
	Version       string         `yaml:"version"`
	Ports         PortsConfig    `yaml:"ports"`
	SessionID     string         `yaml:"sessionId"`
	ProfileID     string         `yaml:"profileId"`
	ApplicationID string         `yaml:"applicationId"`
	Timeouts      TimeoutsConfig `yaml:"timeouts"`
}

type PortsConfig struct {
	Command int `yaml:"command"`
	NavData int `yaml:"navdata"`
	Video   int `yaml:"video"`
	Config  int `yaml:"config"`
}

// TimeoutsConfig holds durations written as "15ms", "5s" and so on.
type TimeoutsConfig struct {
	Poll       time.Duration `yaml:"poll"`
	Dial       time.Duration `yaml:"dial"`
	ConfigRead time.Duration `yaml:"configRead"`
	Handshake  time.Duration `yaml:"handshake"`
	Ready      time.Duration `yaml:"ready"`
	Config     time.Duration `yaml:"config"`
	KeepAlive  time.Duration `yaml:"keepAlive"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	BufferSize    int           `yaml:"bufferSize"`
	BatchSize     int           `yaml:"batchSize"`
	FlushInterval time.Duration `yaml:"flushInterval"`
}

type RelayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

func loadYAML[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var v T

	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	return &v, nil
}

// Load reads path and fills in defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		var err error
		if cfg, err = loadYAML[Config](path); err != nil {
			return nil, err
		}

		if cfg.Recorder.Path != "" && !filepath.IsAbs(cfg.Recorder.Path) {
			cfg.Recorder.Path = filepath.Join(filepath.Dir(path), cfg.Recorder.Path)
		}
	}

	cfg.applyDefaults()

	if _, err := drone.ParseDroneVersion(cfg.Drone.Version); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := drone.DefaultConfig()
	d := &c.Drone

	setString(&d.Address, def.Address)
	setString(&d.Version, string(def.Version))
	setString(&d.SessionID, def.SessionID)
	setString(&d.ProfileID, def.ProfileID)
	setString(&d.ApplicationID, def.ApplicationID)

	setInt(&d.Ports.Command, def.CommandPort)
	setInt(&d.Ports.NavData, def.NavDataPort)
	setInt(&d.Ports.Video, def.VideoPort)
	setInt(&d.Ports.Config, def.ConfigPort)

	setDuration(&d.Timeouts.Poll, def.PollInterval)
	setDuration(&d.Timeouts.Dial, def.DialTimeout)
	setDuration(&d.Timeouts.ConfigRead, def.ConfigReadTimeout)
	setDuration(&d.Timeouts.Handshake, def.HandshakeTimeout)
	setDuration(&d.Timeouts.Ready, def.ReadyTimeout)
	setDuration(&d.Timeouts.Config, def.ConfigTimeout)
	setDuration(&d.Timeouts.KeepAlive, def.KeepAliveInterval)

	setString(&c.Logs.Level, "info")
	setInt(&c.Logs.MaxSizeMB, 25)
	setInt(&c.Logs.MaxAgeDays, 7)
	setInt(&c.Logs.MaxBackups, 5)

	setString(&c.Recorder.Path, "flights.db")
	setInt(&c.Recorder.BufferSize, 512)
	setInt(&c.Recorder.BatchSize, 50)
	setDuration(&c.Recorder.FlushInterval, time.Second)

	setString(&c.Relay.Listen, ":8090")
}

// DroneConfig converts the drone section for the client.
func (c *Config) DroneConfig() (drone.Config, error) {
	version, err := drone.ParseDroneVersion(c.Drone.Version)
	if err != nil {
		return drone.Config{}, err
	}

	d := c.Drone

	return drone.Config{
		Address:           d.Address,
		CommandPort:       d.Ports.Command,
		NavDataPort:       d.Ports.NavData,
		VideoPort:         d.Ports.Video,
		ConfigPort:        d.Ports.Config,
		Version:           version,
		SessionID:         d.SessionID,
		ProfileID:         d.ProfileID,
		ApplicationID:     d.ApplicationID,
		PollInterval:      d.Timeouts.Poll,
		DialTimeout:       d.Timeouts.Dial,
		ConfigReadTimeout: d.Timeouts.ConfigRead,
		HandshakeTimeout:  d.Timeouts.Handshake,
		ReadyTimeout:      d.Timeouts.Ready,
		ConfigTimeout:     d.Timeouts.Config,
		KeepAliveInterval: d.Timeouts.KeepAlive,
	}, nil
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v <= 0 {
		*v = def
	}
}
