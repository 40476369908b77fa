package main

import (
	"strings"
	"sync"
)

// LogBuffer keeps the last lines written to it for the log view.
type LogBuffer struct {
	lines []string
	mx    sync.RWMutex
	n     int
	cb    func()
}

func NewLogBuffer(n int) *LogBuffer {
	return &LogBuffer{
		lines: make([]string, 0, n),
		n:     n,
	}
}

func (l *LogBuffer) Write(p []byte) (int, error) {
	for _, s := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		l.AddLine(s)
	}

	return len(p), nil
}

func (l *LogBuffer) AddLine(s string) {
	l.mx.Lock()
	l.lines = append(l.lines, s)
	if len(l.lines) > l.n {
		l.lines = l.lines[len(l.lines)-l.n:]
	}
	cb := l.cb
	l.mx.Unlock()

	if cb != nil {
		cb()
	}
}

func (l *LogBuffer) SetCallback(cb func()) {
	l.mx.Lock()
	l.cb = cb
	l.mx.Unlock()
}

// GetLines returns a copy of the newest n lines.
func (l *LogBuffer) GetLines(n int) []string {
	l.mx.RLock()
	defer l.mx.RUnlock()

	if n > len(l.lines) {
		n = len(l.lines)
	}

	res := make([]string, n)
	copy(res, l.lines[len(l.lines)-n:])

	return res
}
