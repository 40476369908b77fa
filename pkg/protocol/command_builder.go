package protocol

// CommandBuilder accumulates stick input into a MoveCommand.
// Every value is a fraction of full deflection and is capped at 1.
type CommandBuilder struct {
	roll, pitch, gaz, yaw float32
}

func NewCommandBuilder() *CommandBuilder {
	return &CommandBuilder{}
}

func capped(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (cb *CommandBuilder) Up(v float32) *CommandBuilder {
	cb.gaz = capped(v)
	return cb
}

func (cb *CommandBuilder) Down(v float32) *CommandBuilder {
	cb.gaz = -capped(v)
	return cb
}

func (cb *CommandBuilder) Right(v float32) *CommandBuilder {
	cb.roll = capped(v)
	return cb
}

func (cb *CommandBuilder) Left(v float32) *CommandBuilder {
	cb.roll = -capped(v)
	return cb
}

// Forward tilts the nose down, which the firmware reports as negative pitch.
func (cb *CommandBuilder) Forward(v float32) *CommandBuilder {
	cb.pitch = -capped(v)
	return cb
}

func (cb *CommandBuilder) Back(v float32) *CommandBuilder {
	cb.pitch = capped(v)
	return cb
}

func (cb *CommandBuilder) Cw(v float32) *CommandBuilder {
	cb.yaw = capped(v)
	return cb
}

func (cb *CommandBuilder) Ccw(v float32) *CommandBuilder {
	cb.yaw = -capped(v)
	return cb
}

func (cb *CommandBuilder) Build() MoveCommand {
	return NewMoveCommand(cb.roll, cb.pitch, cb.yaw, cb.gaz)
}
