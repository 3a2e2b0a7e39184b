package common

import (
	"errors"
	"sync"
)

// ErrModulePaused is returned by Guard when the named module's flows are
// administratively halted.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause switch for a named module.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the module is paused. A nil view or empty
// module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Switchboard is a concurrency-safe PauseView with mutable switches.
type Switchboard struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewSwitchboard returns a switchboard with every module running.
func NewSwitchboard() *Switchboard {
	return &Switchboard{paused: make(map[string]bool)}
}

// SetPaused flips the switch for a module.
func (s *Switchboard) SetPaused(module string, paused bool) {
	if s == nil || module == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused[module] = paused
}

// IsPaused implements PauseView.
func (s *Switchboard) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[module]
}
