package protocol

import (
	"sort"
	"strings"
)

// ConfigSeparator splits a configuration dump line into key and value.
const ConfigSeparator = " = "

// ParseConfigLine splits line on the first separator. Anything after a
// further separator stays part of the value.
func ParseConfigLine(line string) (key, value string, ok bool) {
	line = strings.TrimRight(line, "\r\n\x00")

	key, value, ok = strings.Cut(line, ConfigSeparator)
	if !ok || key == "" {
		return "", "", false
	}

	return key, value, true
}

// ParseConfigLines folds a dump into a map, silently skipping malformed lines.
// A repeated key keeps its last value.
func ParseConfigLines(lines []string) map[string]string {
	values := make(map[string]string, len(lines))

	for _, line := range lines {
		if k, v, ok := ParseConfigLine(line); ok {
			values[k] = v
		}
	}

	return values
}

// FormatConfig renders values as a dump, keys sorted.
func FormatConfig(values map[string]string) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(ConfigSeparator)
		b.WriteString(values[k])
		b.WriteByte('\n')
	}

	return []byte(b.String())
}
