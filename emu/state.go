// Package emu provides functional ARMv6-M emulation with reversible execution.
package emu

// State is the architectural state mutations act on.
type State struct {
	Regs *RegFile
	Mem  *Memory
}

// NewState creates a reset register file and an empty memory.
func NewState(opts ...MemoryOption) *State {
	return &State{
		Regs: NewRegFile(),
		Mem:  NewMemory(opts...),
	}
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	return &State{
		Regs: s.Regs.Clone(),
		Mem:  s.Mem.Clone(),
	}
}

// Equal reports whether both states hold the same registers and memory.
func (s *State) Equal(other *State) bool {
	return s.Regs.Equal(other.Regs) && s.Mem.Equal(other.Mem)
}
