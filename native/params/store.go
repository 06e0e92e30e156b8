// Package params persists operator parameters inside the ledger state so they
// survive restarts and apply to every process sharing the database.
package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"jobchain/config"
	"jobchain/core/state"
)

// KeyPauses stores the module pause toggles.
const KeyPauses = "params/pauses"

// StoreState is the keyed state parameters are persisted in.
type StoreState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Store provides typed accessors for persisted parameters.
type Store struct {
	state StoreState
}

func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("params: state not configured")
	}
	return s.state, nil
}

// SetPauses persists the pause toggles as JSON.
func (s *Store) SetPauses(pauses config.Pauses) error {
	st, err := s.withState()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(pauses)
	if err != nil {
		return fmt.Errorf("params: encode pauses: %w", err)
	}
	return st.KVPut([]byte(KeyPauses), encoded)
}

// Pauses loads the persisted toggles. Unset toggles read as not paused.
func (s *Store) Pauses() (config.Pauses, error) {
	st, err := s.withState()
	if err != nil {
		return config.Pauses{}, err
	}
	var raw []byte
	ok, err := st.KVGet([]byte(KeyPauses), &raw)
	if err != nil {
		return config.Pauses{}, fmt.Errorf("params: load pauses: %w", err)
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return config.Pauses{}, nil
	}
	var pauses config.Pauses
	if err := json.Unmarshal(raw, &pauses); err != nil {
		return config.Pauses{}, fmt.Errorf("params: decode pauses: %w", err)
	}
	return pauses, nil
}

// SetPaused flips the toggle of one module.
func (s *Store) SetPaused(module string, paused bool) error {
	pauses, err := s.Pauses()
	if err != nil {
		return err
	}
	if err := pauses.Set(module, paused); err != nil {
		return err
	}
	return s.SetPauses(pauses)
}

// PauseView combines the toggles from the configuration file with the ones
// persisted in state. A module is paused when either source says so; a state
// read failure reports it as paused.
type PauseView struct {
	static config.Pauses
	state  *state.Manager
	logger *slog.Logger
}

// NewPauseView returns a view over static and the toggles persisted in st.
func NewPauseView(static config.Pauses, st *state.Manager, logger *slog.Logger) *PauseView {
	if logger == nil {
		logger = slog.Default()
	}
	return &PauseView{static: static, state: st, logger: logger}
}

// IsPaused implements common.PauseView.
func (v *PauseView) IsPaused(module string) bool {
	if v == nil {
		return false
	}
	if v.static.IsPaused(module) {
		return true
	}
	if v.state == nil {
		return false
	}
	var persisted config.Pauses
	err := v.state.View(func(tx *state.Tx) error {
		var err error
		persisted, err = NewStore(tx).Pauses()
		return err
	})
	if err != nil {
		v.logger.Error("pause toggles unreadable", slog.String("component", "params"), slog.Any("error", err))
		return true
	}
	return persisted.IsPaused(module)
}
