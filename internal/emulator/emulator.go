// Package emulator is a loopback stand-in for the vehicle: it answers on the
// command, navdata, config and video ports the way the firmware does.
package emulator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"dronecontrol/pkg/protocol"
)

const (
	VersionARDrone1 = "ardrone1"
	VersionARDrone2 = "ardrone2"
)

type Config struct {
	Host string

	// A zero port picks a free one.
	CommandPort int
	NavDataPort int
	VideoPort   int
	ConfigPort  int

	Version string

	NavDataInterval time.Duration
	VideoInterval   time.Duration

	// Values is the initial configuration dump.
	Values map[string]string
}

// DefaultConfig listens on the standard vehicle ports.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		CommandPort:     5556,
		NavDataPort:     5554,
		VideoPort:       5555,
		ConfigPort:      5559,
		Version:         VersionARDrone2,
		NavDataInterval: 30 * time.Millisecond,
		VideoInterval:   66 * time.Millisecond,
	}
}

func DefaultValues() map[string]string {
	return map[string]string{
		"general:num_version_config": "1",
		"general:num_version_mb":     "33",
		"general:num_version_soft":   "2.4.8",
		"general:drone_serial":       "XXXXXXXXXX",
		"general:navdata_demo":       "FALSE",
		"control:altitude_max":       "3000",
		"control:outdoor":            "FALSE",
		"network:ssid_single_player": "ardrone2_emu",
		"video:video_channel":        "0",
		"leds:leds_anim":             "0,0,0",
		"custom:session_id":          "00000000",
		"custom:profile_id":          "00000000",
		"custom:application_id":      "00000000",
	}
}

// Data is the simulated vehicle state reported in navdata.
type Data struct {
	Battery    int
	Altitude   float64 // m
	Pitch      float64 // deg
	Roll       float64
	Yaw        float64
	VX, VY, VZ float64
	Flying     bool
	Emergency  bool
	BatteryLow bool
	Ack        bool
}

type Option func(e *Emulator)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Emulator) {
		e.logger = logger
	}
}

type Emulator struct {
	cfg    Config
	logger *slog.Logger

	mx     sync.RWMutex
	data   *Data
	values map[string]string
	seq    uint32

	cmdConn   *net.UDPConn
	navConn   *net.UDPConn
	navAddr   atomic.Pointer[net.UDPAddr]
	videoConn *net.UDPConn
	videoAddr atomic.Pointer[net.UDPAddr]

	cfgListener   net.Listener
	videoListener net.Listener

	clientsMx   sync.Mutex
	clients     map[net.Conn]struct{}
	pendingDump bool

	receivedMx sync.Mutex
	received   []protocol.ATLine

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, opts ...Option) *Emulator {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Version == "" {
		cfg.Version = VersionARDrone2
	}
	if cfg.NavDataInterval == 0 {
		cfg.NavDataInterval = 30 * time.Millisecond
	}
	if cfg.VideoInterval == 0 {
		cfg.VideoInterval = 66 * time.Millisecond
	}

	values := DefaultValues()
	for k, v := range cfg.Values {
		values[k] = v
	}

	e := &Emulator{
		cfg:     cfg,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		values:  values,
		clients: make(map[net.Conn]struct{}),
		data: &Data{
			Battery: 87,
			Ack:     true,
		},
	}

	for _, o := range opts {
		o(e)
	}

	return e
}

func (e *Emulator) Start(ctx context.Context) error {
	var err error

	ctx, e.cancel = context.WithCancel(ctx)

	if e.cmdConn, err = listenUDP(e.cfg.Host, e.cfg.CommandPort); err != nil {
		return fmt.Errorf("command port: %w", err)
	}

	if e.navConn, err = listenUDP(e.cfg.Host, e.cfg.NavDataPort); err != nil {
		e.Stop()
		return fmt.Errorf("navdata port: %w", err)
	}

	if e.cfgListener, err = net.Listen("tcp", hostPort(e.cfg.Host, e.cfg.ConfigPort)); err != nil {
		e.Stop()
		return fmt.Errorf("config port: %w", err)
	}

	if e.cfg.Version == VersionARDrone1 {
		e.videoConn, err = listenUDP(e.cfg.Host, e.cfg.VideoPort)
	} else {
		e.videoListener, err = net.Listen("tcp", hostPort(e.cfg.Host, e.cfg.VideoPort))
	}

	if err != nil {
		e.Stop()
		return fmt.Errorf("video port: %w", err)
	}

	e.run(ctx, e.listenCommands)
	e.run(ctx, e.listenNavData)
	e.run(ctx, e.navDataSender)
	e.run(ctx, e.acceptConfig)

	if e.videoConn != nil {
		e.run(ctx, e.listenP264)
		e.run(ctx, e.p264Sender)
	} else {
		e.run(ctx, e.acceptVideo)
	}

	e.logger.Info("emulator started",
		slog.String("version", e.cfg.Version),
		slog.Int("command", e.CommandPort()),
		slog.Int("navdata", e.NavDataPort()),
		slog.Int("video", e.VideoPort()),
		slog.Int("config", e.ConfigPort()))

	return nil
}

func (e *Emulator) run(ctx context.Context, f func(ctx context.Context)) {
	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		f(ctx)
	}()
}

// Stop closes every socket and waits for the goroutines to exit.
func (e *Emulator) Stop() {
	if e.cancel != nil {
		e.cancel()
	}

	for _, c := range []*net.UDPConn{e.cmdConn, e.navConn, e.videoConn} {
		if c != nil {
			_ = c.Close()
		}
	}

	for _, l := range []net.Listener{e.cfgListener, e.videoListener} {
		if l != nil {
			_ = l.Close()
		}
	}

	e.clientsMx.Lock()
	for c := range e.clients {
		_ = c.Close()
	}
	e.clientsMx.Unlock()

	e.wg.Wait()
}

func (e *Emulator) CommandPort() int {
	return udpPort(e.cmdConn)
}

func (e *Emulator) NavDataPort() int {
	return udpPort(e.navConn)
}

func (e *Emulator) ConfigPort() int {
	return tcpPort(e.cfgListener)
}

func (e *Emulator) VideoPort() int {
	if e.videoConn != nil {
		return udpPort(e.videoConn)
	}
	return tcpPort(e.videoListener)
}

// Received returns every AT command line seen so far.
func (e *Emulator) Received() []protocol.ATLine {
	e.receivedMx.Lock()
	defer e.receivedMx.Unlock()

	res := make([]protocol.ATLine, len(e.received))
	copy(res, e.received)

	return res
}

// ReceivedNames returns the names of received commands, skipping keep-alives.
func (e *Emulator) ReceivedNames() []string {
	var names []string

	for _, l := range e.Received() {
		if l.Name != "COMWDG" {
			names = append(names, l.Name)
		}
	}

	return names
}

func (e *Emulator) WriteData(f func(d *Data)) {
	e.mx.Lock()
	defer e.mx.Unlock()

	f(e.data)
}

func (e *Emulator) ReadData() Data {
	e.mx.RLock()
	defer e.mx.RUnlock()

	return *e.data
}

func (e *Emulator) ConfigValue(key string) string {
	e.mx.RLock()
	defer e.mx.RUnlock()

	return e.values[key]
}

func listenUDP(host string, port int) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", hostPort(host, port))
	if err != nil {
		return nil, err
	}

	return net.ListenUDP("udp", addr)
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func udpPort(c *net.UDPConn) int {
	if c == nil {
		return 0
	}
	return c.LocalAddr().(*net.UDPAddr).Port
}

func tcpPort(l net.Listener) int {
	if l == nil {
		return 0
	}
	return l.Addr().(*net.TCPAddr).Port
}
