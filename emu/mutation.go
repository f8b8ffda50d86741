// Package emu provides functional ARMv6-M emulation with reversible execution.
package emu

import (
	"fmt"

	"github.com/sarchlab/m0sim/insts"
)

// RegisterChange records one register write. Reg is never the SP alias: the
// bank is resolved when the mutation is built.
type RegisterChange struct {
	Reg      Register
	Old, New uint32
}

// MemoryChange records one memory write.
type MemoryChange struct {
	Addr     uint32
	Old, New []byte
}

// Mutation is the invertible record of one executed instruction. Every
// location it touches is captured with its old and new value when the
// mutation is built, so Apply and Rollback only write recorded values.
// The set of implementations is closed to this package.
type Mutation interface {
	// Apply performs the forward transform. Applying an applied mutation
	// fails with ErrDoubleApply.
	Apply(s *State) error

	// Rollback restores every touched location. Rolling back a mutation
	// that is not applied fails with ErrDoubleRollback.
	Rollback(s *State) error

	// Applied reports whether the mutation is currently applied.
	Applied() bool

	// Instruction returns the decoded instruction.
	Instruction() insts.Instruction

	// Address returns the address of the instruction.
	Address() uint32

	// Branches reports whether the mutation redefines PC instead of
	// falling through to the next instruction.
	Branches() bool

	// NextPC returns the PC after the mutation is applied.
	NextPC() uint32

	// RegisterChanges returns the register writes, PC last.
	RegisterChanges() []RegisterChange

	// MemoryChanges returns the memory writes in application order.
	MemoryChanges() []MemoryChange

	fmt.Stringer

	// forward writes the new values without lifecycle checks. Replay uses
	// it on private copies of the state.
	forward(s *State) error
}

// effect is the state delta shared by all mutation kinds.
type effect struct {
	inst    insts.Instruction
	addr    uint32
	regs    []RegisterChange
	mem     []MemoryChange
	branch  bool
	applied bool
}

func (e *effect) Apply(s *State) error {
	if e.applied {
		return fmt.Errorf("%s: %w", e, ErrDoubleApply)
	}
	if err := e.forward(s); err != nil {
		return err
	}
	e.applied = true
	return nil
}

func (e *effect) Rollback(s *State) error {
	if !e.applied {
		return fmt.Errorf("%s: %w", e, ErrDoubleRollback)
	}
	if err := e.backward(s); err != nil {
		return err
	}
	e.applied = false
	return nil
}

func (e *effect) forward(s *State) error {
	for _, c := range e.mem {
		if err := s.Mem.write(c.Addr, c.New); err != nil {
			return err
		}
	}
	for _, c := range e.regs {
		s.Regs.Write(c.Reg, c.New)
	}
	return nil
}

func (e *effect) backward(s *State) error {
	for i := len(e.regs) - 1; i >= 0; i-- {
		s.Regs.Write(e.regs[i].Reg, e.regs[i].Old)
	}
	for i := len(e.mem) - 1; i >= 0; i-- {
		c := e.mem[i]
		if err := s.Mem.write(c.Addr, c.Old); err != nil {
			return err
		}
	}
	return nil
}

func (e *effect) Applied() bool                  { return e.applied }
func (e *effect) Instruction() insts.Instruction { return e.inst }
func (e *effect) Address() uint32                { return e.addr }
func (e *effect) Branches() bool                 { return e.branch }

func (e *effect) NextPC() uint32 {
	for _, c := range e.regs {
		if c.Reg == PC {
			return c.New
		}
	}
	return e.addr + uint32(e.inst.Size())
}

func (e *effect) RegisterChanges() []RegisterChange {
	out := make([]RegisterChange, len(e.regs))
	copy(out, e.regs)
	return out
}

func (e *effect) MemoryChanges() []MemoryChange {
	out := make([]MemoryChange, len(e.mem))
	copy(out, e.mem)
	return out
}

func (e *effect) String() string {
	return fmt.Sprintf("0x%08X: %s", e.addr, e.inst)
}

// DataMutation writes the result of a data-processing instruction and,
// for flag-setting forms, the APSR flags.
type DataMutation struct {
	effect
	Result uint32
}

// CompareMutation updates the APSR flags only (CMP, CMN, TST).
type CompareMutation struct {
	effect
	Flags Flags
}

// LoadMutation loads one register from memory.
type LoadMutation struct {
	effect
	EffectiveAddress uint32
	Value            uint32
}

// StoreMutation stores one register to memory.
type StoreMutation struct {
	effect
	EffectiveAddress uint32
	Value            uint32
}

// LoadMultipleMutation loads a register list (LDM).
type LoadMultipleMutation struct {
	effect
	Base      uint32
	Registers []uint8
	Writeback bool
}

// StoreMultipleMutation stores a register list (STM).
type StoreMultipleMutation struct {
	effect
	Base      uint32
	Registers []uint8
}

// PushMutation stores a register list below SP and lowers SP.
type PushMutation struct {
	effect
	OldSP, NewSP uint32
	Registers    []uint8
}

// PopMutation loads a register list from SP and raises SP. A popped PC
// redefines the PC.
type PopMutation struct {
	effect
	OldSP, NewSP uint32
	Registers    []uint8
}

// BranchMutation redefines PC (B, BL, BX, BLX). A conditional branch that
// is not taken falls through.
type BranchMutation struct {
	effect
	Target uint32
	Taken  bool
	Link   bool
}

// SpecialRegisterMutation covers MRS, MSR and CPS.
type SpecialRegisterMutation struct {
	effect
}

// HintMutation covers instructions without architectural effect beyond
// advancing PC (NOP, YIELD, WFE, WFI, SEV and the barriers).
type HintMutation struct {
	effect
}

// TrapMutation covers BKPT and SVC. Applying it advances PC; the engine
// halts after it.
type TrapMutation struct {
	effect
	Reason HaltReason
	Imm    uint32
}
