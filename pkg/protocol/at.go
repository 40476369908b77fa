package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ATLine is one decoded AT command.
type ATLine struct {
	Name string
	Seq  uint32
	Args []string
}

func (l ATLine) String() string {
	return fmt.Sprintf("AT*%s=%d,%s", l.Name, l.Seq, strings.Join(l.Args, ","))
}

// Int returns argument i as an integer.
func (l ATLine) Int(i int) (int64, error) {
	if i >= len(l.Args) {
		return 0, fmt.Errorf("%s: no argument %d", l.Name, i)
	}

	return strconv.ParseInt(l.Args[i], 10, 64)
}

// DecodeAT splits a command datagram into its lines. Quoted arguments are
// returned without the quotes.
func DecodeAT(d []byte) ([]ATLine, error) {
	var lines []ATLine

	for _, raw := range strings.Split(string(d), "\r") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		if !strings.HasPrefix(raw, "AT*") {
			return lines, fmt.Errorf("invalid command prefix: %q", raw)
		}

		name, rest, ok := strings.Cut(raw[3:], "=")
		if !ok {
			return lines, fmt.Errorf("missing sequence number: %q", raw)
		}

		args := splitArgs(rest)
		seq, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return lines, fmt.Errorf("invalid sequence number in %q: %w", raw, err)
		}

		lines = append(lines, ATLine{Name: name, Seq: uint32(seq), Args: args[1:]})
	}

	return lines, nil
}

func splitArgs(s string) []string {
	var (
		args   []string
		cur    strings.Builder
		quoted bool
	)

	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			args = append(args, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}

	return append(args, cur.String())
}
