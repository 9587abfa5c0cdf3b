package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LifecycleState tags where a tracked position sits in its exit plan.
type LifecycleState string

const (
	// StateFullExit: no staged partial exit; the whole position rides the
	// initial stop and target.
	StateFullExit LifecycleState = "FULL_EXIT"
	// StateStagedExit: a reduce-only limit order for the first target is
	// resting on the venue.
	StateStagedExit LifecycleState = "STAGED_EXIT"
	// StateBreakevenPending: the staged exit filled and the stop has been
	// migrated to entry; the remainder runs for the secondary target.
	StateBreakevenPending LifecycleState = "BREAKEVEN_PENDING"
)

// PositionState is the durable record for one tracked position.
type PositionState struct {
	Symbol              string         `json:"symbol"`
	State               LifecycleState `json:"state"`
	Side                Side           `json:"side"`
	EntryPrice          float64        `json:"entryPrice"`
	InitialQty          float64        `json:"initialQty"`
	StopLossPrice       float64        `json:"stopLossPrice"`
	StagedExitOrderID   string         `json:"stagedExitOrderId,omitempty"`
	SecondaryTakeProfit float64        `json:"secondaryTakeProfit"`
	LastTransition      time.Time      `json:"lastTransition"`
}

// StateStore is a write-through JSON file keyed by symbol. Every mutation is
// flushed before it returns, so a restart never observes a half-applied
// transition. The file stays human-inspectable on purpose.
type StateStore struct {
	mu     sync.Mutex
	path   string
	states map[string]PositionState
}

func NewStateStore(path string) *StateStore {
	return &StateStore{
		path:   path,
		states: make(map[string]PositionState),
	}
}

// Load reads the backing file. A missing file is an empty store, not an error.
func (s *StateStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read state file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	states := make(map[string]PositionState)
	if err := json.Unmarshal(data, &states); err != nil {
		return fmt.Errorf("parse state file %s: %w", s.path, err)
	}
	s.states = states
	return nil
}

// Get returns the record for symbol, if tracked.
func (s *StateStore) Get(symbol string) (PositionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[symbol]
	return st, ok
}

// Set stores the record and flushes to disk.
func (s *StateStore) Set(st PositionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.Symbol] = st
	return s.flushLocked()
}

// Remove drops the record for symbol and flushes to disk. Removing an
// untracked symbol is a no-op.
func (s *StateStore) Remove(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[symbol]; !ok {
		return nil
	}
	delete(s.states, symbol)
	return s.flushLocked()
}

// All returns a snapshot of every tracked record.
func (s *StateStore) All() []PositionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PositionState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	return out
}

// Symbols returns the tracked symbols.
func (s *StateStore) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.states))
	for sym := range s.states {
		out = append(out, sym)
	}
	return out
}

// flushLocked writes the whole map atomically via rename. Caller holds mu.
func (s *StateStore) flushLocked() error {
	data, err := json.MarshalIndent(s.states, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tmp := s.path + ".tmp"
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
