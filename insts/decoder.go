package insts

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Decode errors.
var (
	// ErrInsufficientInput is returned when fewer bytes remain than the
	// shortest candidate encoding needs.
	ErrInsufficientInput = errors.New("insufficient input")

	// ErrUndefinedInstruction is matched by every *UndefinedInstructionError.
	ErrUndefinedInstruction = errors.New("undefined instruction")
)

// UndefinedInstructionError reports bytes that match no encoding.
type UndefinedInstructionError struct {
	Bytes []byte
}

func (e *UndefinedInstructionError) Error() string {
	return fmt.Sprintf("undefined instruction % X", e.Bytes)
}

// Is makes errors.Is(err, ErrUndefinedInstruction) hold.
func (e *UndefinedInstructionError) Is(target error) bool {
	return target == ErrUndefinedInstruction
}

// Decoder decodes Thumb machine code into instructions.
type Decoder struct {
	order binary.ByteOrder
	t16   *Table
	t32   *Table
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithByteOrder sets the byte order of instruction halfwords. The default is
// stream order, most significant byte first.
func WithByteOrder(order binary.ByteOrder) DecoderOption {
	return func(d *Decoder) {
		d.order = order
	}
}

// NewDecoder creates a new Thumb instruction decoder.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{
		order: binary.BigEndian,
		t16:   table16,
		t32:   table32,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ByteOrder returns the halfword byte order of the decoder.
func (d *Decoder) ByteOrder() binary.ByteOrder {
	return d.order
}

// Is32Bit reports whether a first halfword starts a 32-bit encoding
// (bits [15:11] are 0b11101, 0b11110 or 0b11111).
func Is32Bit(hw uint16) bool {
	top := hw >> 11
	return top == 0b11101 || top == 0b11110 || top == 0b11111
}

// Decode decodes the instruction at the start of b. It returns the
// instruction and the number of bytes consumed (2 or 4).
func (d *Decoder) Decode(b []byte) (Instruction, int, error) {
	var inst Instruction

	if len(b) < 2 {
		return inst, 0, ErrInsufficientInput
	}

	hw1 := d.order.Uint16(b)
	if !Is32Bit(hw1) {
		e := d.t16.Lookup(uint32(hw1))
		if e == nil {
			return inst, 0, undefined(b[:2])
		}
		e.extract(uint32(hw1), &inst)
		return inst, 2, nil
	}

	// No 32-bit encoding can start with this halfword: report it as
	// undefined instead of asking for more input.
	if !d.t32.anyPrefix(hw1) {
		return inst, 0, undefined(b[:2])
	}
	if len(b) < 4 {
		return inst, 0, ErrInsufficientInput
	}

	word := uint32(hw1)<<16 | uint32(d.order.Uint16(b[2:]))
	e := d.t32.Lookup(word)
	if e == nil {
		return inst, 0, undefined(b[:4])
	}
	e.extract(word, &inst)
	return inst, 4, nil
}

// DecodeAll decodes b from start to end. It stops at the first error and
// returns the instructions decoded so far together with the error.
func (d *Decoder) DecodeAll(b []byte) ([]Instruction, error) {
	var out []Instruction
	for len(b) > 0 {
		inst, n, err := d.Decode(b)
		if err != nil {
			return out, err
		}
		out = append(out, inst)
		b = b[n:]
	}
	return out, nil
}

// anyPrefix reports whether some 32-bit encoding accepts hw as its first
// halfword.
func (t *Table) anyPrefix(hw uint16) bool {
	for _, e := range t.entries {
		if uint32(hw)&(e.mask>>16) == e.match>>16 {
			return true
		}
	}
	return false
}

func undefined(b []byte) error {
	cp := make([]byte, len(b))
	copy(cp, b)
	return &UndefinedInstructionError{Bytes: cp}
}
