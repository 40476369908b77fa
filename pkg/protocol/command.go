package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AT command names understood by the vehicle firmware.
const (
	atRef       = "REF"
	atPcmd      = "PCMD"
	atFtrim     = "FTRIM"
	atConfig    = "CONFIG"
	atConfigIDs = "CONFIG_IDS"
	atCtrl      = "CTRL"
	atAnim      = "ANIM"
	atComwdg    = "COMWDG"
)

// refBase has bits 18, 20, 22, 24 and 28 set; the firmware ignores AT*REF without them.
const refBase = 0x11540000

const (
	refTakeOff   = 1 << 9
	refEmergency = 1 << 8
)

// Configuration keys written by commands.
const (
	KeyVideoChannel = "video:video_channel"
	KeyLedAnimation = "leds:leds_anim"
)

type atCommand struct {
	name string
	args []string
}

// Command is a single instruction for the vehicle. Implementations are
// immutable values and the set of them is closed.
type Command interface {
	fmt.Stringer
	atCommands() []atCommand
}

// Encode renders c as AT command lines numbered from seq. It returns the
// datagram payload and the next unused sequence number.
func Encode(c Command, seq uint32) ([]byte, uint32) {
	var b strings.Builder

	for _, at := range c.atCommands() {
		b.WriteString("AT*")
		b.WriteString(at.name)
		b.WriteByte('=')
		b.WriteString(strconv.FormatUint(uint64(seq), 10))
		for _, a := range at.args {
			b.WriteByte(',')
			b.WriteString(a)
		}
		b.WriteByte('\r')
		seq++
	}

	return []byte(b.String()), seq
}

func quote(s string) string {
	return `"` + s + `"`
}

func itoa(v int) string {
	return strconv.Itoa(v)
}

// floatArg encodes f the way AT*PCMD and AT*LED expect: the IEEE-754 bits read as int32.
func floatArg(f float32) string {
	return strconv.FormatInt(int64(int32(math.Float32bits(f))), 10)
}

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// Checksums identify the session, profile and application a configuration write belongs to.
type Checksums struct {
	Session     string
	Profile     string
	Application string
}

func (c Checksums) IsZero() bool {
	return c.Session == "" && c.Profile == "" && c.Application == ""
}

func (c Checksums) prefix() []atCommand {
	if c.IsZero() {
		return nil
	}

	return []atCommand{{atConfigIDs, []string{quote(c.Session), quote(c.Profile), quote(c.Application)}}}
}

type FlightMode int

const (
	TakeOff FlightMode = iota
	Land
	Emergency
)

func (m FlightMode) String() string {
	switch m {
	case TakeOff:
		return "take-off"
	case Land:
		return "land"
	case Emergency:
		return "emergency"
	default:
		return fmt.Sprintf("flight-mode(%d)", int(m))
	}
}

type FlightModeCommand struct {
	Mode FlightMode
}

func (c FlightModeCommand) String() string {
	return "flight mode " + c.Mode.String()
}

func (c FlightModeCommand) atCommands() []atCommand {
	flags := uint32(refBase)

	switch c.Mode {
	case TakeOff:
		flags |= refTakeOff
	case Emergency:
		flags |= refEmergency
	}

	return []atCommand{{atRef, []string{strconv.FormatUint(uint64(flags), 10)}}}
}

// FlatTrimCommand tells a landed vehicle to recalibrate its horizontal plane.
type FlatTrimCommand struct{}

func (FlatTrimCommand) String() string {
	return "flat trim"
}

func (FlatTrimCommand) atCommands() []atCommand {
	return []atCommand{{atFtrim, nil}}
}

// MoveCommand carries progressive movement, every axis in [-1, 1].
// All axes at zero means hover.
type MoveCommand struct {
	Roll, Pitch, Yaw, VerticalSpeed float32
}

func NewMoveCommand(roll, pitch, yaw, verticalSpeed float32) MoveCommand {
	return MoveCommand{
		Roll:          clamp(roll),
		Pitch:         clamp(pitch),
		Yaw:           clamp(yaw),
		VerticalSpeed: clamp(verticalSpeed),
	}
}

func (c MoveCommand) String() string {
	return fmt.Sprintf("move roll %.2f pitch %.2f yaw %.2f gaz %.2f", c.Roll, c.Pitch, c.Yaw, c.VerticalSpeed)
}

func (c MoveCommand) Hover() bool {
	return c.Roll == 0 && c.Pitch == 0 && c.Yaw == 0 && c.VerticalSpeed == 0
}

func (c MoveCommand) atCommands() []atCommand {
	flag := 1
	if c.Hover() {
		flag = 0
	}

	return []atCommand{{atPcmd, []string{
		itoa(flag),
		floatArg(clamp(c.Roll)),
		floatArg(clamp(c.Pitch)),
		floatArg(clamp(c.VerticalSpeed)),
		floatArg(clamp(c.Yaw)),
	}}}
}

type SetConfigValueCommand struct {
	Checksums Checksums
	Key       string
	Value     string
}

func (c SetConfigValueCommand) String() string {
	return fmt.Sprintf("set config %s=%s", c.Key, c.Value)
}

func (c SetConfigValueCommand) atCommands() []atCommand {
	return append(c.Checksums.prefix(), atCommand{atConfig, []string{quote(c.Key), quote(c.Value)}})
}

type Camera int

const (
	CameraFront  Camera = 0
	CameraBottom Camera = 1
	CameraNext   Camera = 4
)

func (c Camera) String() string {
	switch c {
	case CameraFront:
		return "front"
	case CameraBottom:
		return "bottom"
	case CameraNext:
		return "next"
	default:
		return fmt.Sprintf("camera(%d)", int(c))
	}
}

type SwitchCameraCommand struct {
	Checksums Checksums
	Camera    Camera
}

func (c SwitchCameraCommand) String() string {
	return "switch camera to " + c.Camera.String()
}

func (c SwitchCameraCommand) atCommands() []atCommand {
	return SetConfigValueCommand{Checksums: c.Checksums, Key: KeyVideoChannel, Value: itoa(int(c.Camera))}.atCommands()
}

type LedAnimation int

const (
	LedBlinkGreenRed LedAnimation = iota
	LedBlinkGreen
	LedBlinkRed
	LedBlinkOrange
	LedSnakeGreenRed
	LedFire
	LedStandard
	LedRed
	LedGreen
	LedRedSnake
	LedBlank
)

type PlayLedAnimationCommand struct {
	Checksums Checksums
	Animation LedAnimation
	Frequency float32 // Hz
	Duration  int     // seconds
}

func (c PlayLedAnimationCommand) String() string {
	return fmt.Sprintf("play led animation %d at %.1fHz for %ds", c.Animation, c.Frequency, c.Duration)
}

func (c PlayLedAnimationCommand) atCommands() []atCommand {
	value := fmt.Sprintf("%d,%s,%d", int(c.Animation), floatArg(c.Frequency), c.Duration)
	return SetConfigValueCommand{Checksums: c.Checksums, Key: KeyLedAnimation, Value: value}.atCommands()
}

type FlightAnimation int

const (
	AnimPhiM30Deg FlightAnimation = iota
	AnimPhi30Deg
	AnimThetaM30Deg
	AnimTheta30Deg
	AnimTheta20DegYaw200Deg
	AnimTheta20DegYawM200Deg
	AnimTurnaround
	AnimTurnaroundGodown
	AnimYawShake
	AnimYawDance
	AnimPhiDance
	AnimThetaDance
	AnimVzDance
	AnimWave
	AnimPhiThetaMixed
	AnimDoublePhiThetaMixed
	AnimFlipAhead
	AnimFlipBehind
	AnimFlipLeft
	AnimFlipRight
)

// animationDurations are the firmware defaults in milliseconds, indexed by FlightAnimation.
var animationDurations = [...]int{
	1000, 1000, 1000, 1000, 1000, 1000, 5000, 5000, 2000, 5000,
	5000, 5000, 5000, 5000, 5000, 5000, 15, 15, 15, 15,
}

// Duration returns the default animation length in milliseconds.
func (a FlightAnimation) Duration() int {
	if a < 0 || int(a) >= len(animationDurations) {
		return 0
	}
	return animationDurations[a]
}

type PlayFlightAnimationCommand struct {
	Kind FlightAnimation
}

func (c PlayFlightAnimationCommand) String() string {
	return fmt.Sprintf("play flight animation %d", c.Kind)
}

func (c PlayFlightAnimationCommand) atCommands() []atCommand {
	return []atCommand{{atAnim, []string{itoa(int(c.Kind)), itoa(c.Kind.Duration())}}}
}

type ControlDataMode int

const (
	GetControlData ControlDataMode = 4
	ResetAckFlag   ControlDataMode = 5
)

func (m ControlDataMode) String() string {
	switch m {
	case GetControlData:
		return "get control data"
	case ResetAckFlag:
		return "reset ack flag"
	default:
		return fmt.Sprintf("control mode(%d)", int(m))
	}
}

type ControlDataCommand struct {
	Mode ControlDataMode
}

func (c ControlDataCommand) String() string {
	return "control data " + c.Mode.String()
}

func (c ControlDataCommand) atCommands() []atCommand {
	return []atCommand{{atCtrl, []string{itoa(int(c.Mode)), "0"}}}
}

// WatchdogCommand resets the vehicle's command link watchdog.
type WatchdogCommand struct{}

func (WatchdogCommand) String() string {
	return "watchdog"
}

func (WatchdogCommand) atCommands() []atCommand {
	return []atCommand{{atComwdg, nil}}
}
