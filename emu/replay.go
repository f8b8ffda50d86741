// Package emu provides functional ARMv6-M emulation with reversible execution.
package emu

import "fmt"

// StateAt returns the state right after History[index] was applied,
// computed by replaying History over the baseline. The live state is not
// touched.
func (e *Emulator) StateAt(index int) (*State, error) {
	if index < 0 || index >= len(e.history) {
		return nil, fmt.Errorf("index %d of %d: %w", index, len(e.history), ErrHistoryIndex)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start, st := e.nearestCheckpoint(index)
	st = st.Clone()

	for i := start + 1; i <= index; i++ {
		if err := e.history[i].forward(st); err != nil {
			return nil, fmt.Errorf("failed to replay %s: %w", e.history[i], err)
		}
		if e.checkpointInterval > 0 && (i+1)%e.checkpointInterval == 0 {
			if _, ok := e.checkpoints[i]; !ok {
				e.checkpoints[i] = st.Clone()
			}
		}
	}

	return st, nil
}

// MemoryAt returns the memory right after History[index] was applied.
func (e *Emulator) MemoryAt(index int) (*Memory, error) {
	st, err := e.StateAt(index)
	if err != nil {
		return nil, err
	}
	return st.Mem, nil
}

// nearestCheckpoint returns the latest memoised state at or before index.
// It falls back to the baseline, reported as index -1.
func (e *Emulator) nearestCheckpoint(index int) (int, *State) {
	n := e.checkpointInterval
	if n <= 0 {
		return -1, e.baseline
	}

	for i := ((index+1)/n)*n - 1; i >= 0; i -= n {
		if cp, ok := e.checkpoints[i]; ok {
			return i, cp
		}
	}
	return -1, e.baseline
}

// dropCheckpoints forgets every memoised state at or after index.
func (e *Emulator) dropCheckpoints(index int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.checkpoints {
		if i >= index {
			delete(e.checkpoints, i)
		}
	}
}

// Checkpoints returns the number of memoised replay states.
func (e *Emulator) Checkpoints() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.checkpoints)
}
