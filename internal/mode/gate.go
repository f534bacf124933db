// Package mode holds the process-wide safety switch consulted before each run.
package mode

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// Mode is the safety level of the process.
type Mode string

const (
	Normal   Mode = "NORMAL"
	FailSafe Mode = "FAIL_SAFE"
	Panic    Mode = "PANIC"
)

var ErrInvalidMode = errors.New("invalid mode")

// Parse accepts a mode name, case-insensitively.
func Parse(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case Normal, FailSafe, Panic:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Gate is an atomically updated mode handle. Reads never lock.
type Gate struct {
	v atomic.Value
}

// NewGate returns a gate starting in initial.
func NewGate(initial Mode) (*Gate, error) {
	if _, err := Parse(string(initial)); err != nil {
		return nil, err
	}
	g := &Gate{}
	g.v.Store(initial)
	return g, nil
}

// Current returns the mode in effect.
func (g *Gate) Current() Mode {
	return g.v.Load().(Mode)
}

// CurrentMode returns the mode name.
func (g *Gate) CurrentMode() string {
	return string(g.Current())
}

// SetMode replaces the mode for all subsequent checks and returns the previous one.
func (g *Gate) SetMode(m Mode) (Mode, error) {
	if _, err := Parse(string(m)); err != nil {
		return "", err
	}
	return g.v.Swap(m).(Mode), nil
}

// Safe is false only for PANIC.
func (m Mode) Safe() bool { return m != Panic }

// IsSafeToExecute is false only in PANIC.
func (g *Gate) IsSafeToExecute() bool {
	return g.Current().Safe()
}
