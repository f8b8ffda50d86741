// Package emu provides functional ARMv6-M emulation with reversible execution.
package emu

import (
	"errors"
	"fmt"
)

// Execution errors.
var (
	// ErrUnalignedAccess is matched by an *AccessError of kind AccessUnaligned.
	ErrUnalignedAccess = errors.New("unaligned access")

	// ErrOutOfBoundsAccess is matched by an *AccessError of kind
	// AccessOutOfBounds.
	ErrOutOfBoundsAccess = errors.New("out of bounds access")

	// ErrDoubleApply is returned when a mutation is applied twice without a
	// rollback in between.
	ErrDoubleApply = errors.New("mutation already applied")

	// ErrDoubleRollback is returned when a mutation that is not applied is
	// rolled back.
	ErrDoubleRollback = errors.New("mutation not applied")

	// ErrRollbackOnEmptyHistory is returned by RollbackLastMutation when
	// there is nothing to roll back.
	ErrRollbackOnEmptyHistory = errors.New("rollback on empty history")

	// ErrNotImplemented is returned for a decoded instruction that has no
	// mutation builder.
	ErrNotImplemented = errors.New("not implemented")

	// ErrHalted is returned by Step when the emulator is halted.
	ErrHalted = errors.New("emulator halted")

	// ErrHistoryIndex is returned for a history index out of range.
	ErrHistoryIndex = errors.New("history index out of range")
)

// AccessKind classifies a memory access fault.
type AccessKind uint8

// Access fault kinds.
const (
	AccessUnaligned AccessKind = iota
	AccessOutOfBounds
)

func (k AccessKind) String() string {
	if k == AccessUnaligned {
		return "unaligned access"
	}
	return "out of bounds access"
}

// AccessError is a memory access fault.
type AccessError struct {
	Kind    AccessKind
	Address uint32
	Size    int
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%s: %d bytes at 0x%08X", e.Kind, e.Size, e.Address)
}

// Is matches ErrUnalignedAccess or ErrOutOfBoundsAccess by kind.
func (e *AccessError) Is(target error) bool {
	switch target {
	case ErrUnalignedAccess:
		return e.Kind == AccessUnaligned
	case ErrOutOfBoundsAccess:
		return e.Kind == AccessOutOfBounds
	}
	return false
}
