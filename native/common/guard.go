package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether an operator paused a module.
type PauseView interface {
	IsPaused(module string) bool
}

// StaticPauses is a PauseView backed by a fixed set of module names.
type StaticPauses map[string]bool

// IsPaused implements PauseView.
func (p StaticPauses) IsPaused(module string) bool {
	return p[module]
}

// Guard returns ErrModulePaused when module is paused in p.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
