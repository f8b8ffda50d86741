// Package emu provides functional ARMv6-M emulation with reversible execution.
package emu

import "fmt"

// Register names a logical register of the ARMv6-M register file.
type Register uint8

// Registers. SP is the active stack pointer; SPMain and SPProcess name the
// banks directly.
const (
	R0 Register = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	SP
	LR
	PC
	SPMain
	SPProcess
	APSR
	IPSR
	EPSR
	PRIMASK
	CONTROL

	numRegisters
)

var registerNames = [numRegisters]string{
	"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
	"r8", "r9", "r10", "r11", "r12", "sp", "lr", "pc",
	"sp_main", "sp_process", "apsr", "ipsr", "epsr", "primask", "control",
}

func (r Register) String() string {
	if r >= numRegisters {
		return fmt.Sprintf("reg%d", uint8(r))
	}
	return registerNames[r]
}

// Status register bits.
const (
	FlagN uint32 = 1 << 31
	FlagZ uint32 = 1 << 30
	FlagC uint32 = 1 << 29
	FlagV uint32 = 1 << 28

	flagsMask uint32 = FlagN | FlagZ | FlagC | FlagV

	EPSRThumb uint32 = 1 << 24

	IPSRMask uint32 = 0x3F

	ControlNPriv uint32 = 1 << 0
	ControlSPSel uint32 = 1 << 1
)

// Flags holds the APSR condition flags.
type Flags struct {
	// N is the negative flag.
	N bool
	// Z is the zero flag.
	Z bool
	// C is the carry flag.
	C bool
	// V is the overflow flag.
	V bool
}

// bits packs the flags into APSR bits [31:28].
func (f Flags) bits() uint32 {
	var v uint32
	if f.N {
		v |= FlagN
	}
	if f.Z {
		v |= FlagZ
	}
	if f.C {
		v |= FlagC
	}
	if f.V {
		v |= FlagV
	}
	return v
}

func flagsFromAPSR(apsr uint32) Flags {
	return Flags{
		N: apsr&FlagN != 0,
		Z: apsr&FlagZ != 0,
		C: apsr&FlagC != 0,
		V: apsr&FlagV != 0,
	}
}

// RegFile represents the ARMv6-M register file: R0-R12, the banked stack
// pointers, LR, PC and the special-purpose registers. All access goes through
// named accessors; SP resolves to the bank selected by CONTROL.SPSEL on every
// access.
type RegFile struct {
	r         [13]uint32
	spMain    uint32
	spProcess uint32
	lr        uint32
	pc        uint32
	apsr      uint32
	ipsr      uint32
	epsr      uint32
	primask   uint32
	control   uint32
}

// NewRegFile creates a register file in its reset state.
func NewRegFile() *RegFile {
	r := &RegFile{}
	r.Reset()
	return r
}

// Reset zeroes every register and sets the Thumb bit of EPSR.
func (r *RegFile) Reset() {
	*r = RegFile{epsr: EPSRThumb}
}

// ActiveSP returns the bank that SP currently resolves to.
func (r *RegFile) ActiveSP() Register {
	if r.control&ControlSPSel != 0 {
		return SPProcess
	}
	return SPMain
}

// Resolve maps SP to the active bank and returns every other register
// unchanged.
func (r *RegFile) Resolve(reg Register) Register {
	if reg == SP {
		return r.ActiveSP()
	}
	return reg
}

// Read reads a register by name.
func (r *RegFile) Read(reg Register) uint32 {
	switch reg {
	case SP:
		return r.Read(r.ActiveSP())
	case LR:
		return r.lr
	case PC:
		return r.pc
	case SPMain:
		return r.spMain
	case SPProcess:
		return r.spProcess
	case APSR:
		return r.apsr
	case IPSR:
		return r.ipsr
	case EPSR:
		return r.epsr
	case PRIMASK:
		return r.primask
	case CONTROL:
		return r.control
	}
	if reg <= R12 {
		return r.r[reg]
	}
	return 0
}

// Write writes a register by name. Writing SP writes the active bank;
// writing SPMain or SPProcess never changes which bank is active.
func (r *RegFile) Write(reg Register, value uint32) {
	switch reg {
	case SP:
		r.Write(r.ActiveSP(), value)
	case LR:
		r.lr = value
	case PC:
		r.pc = value
	case SPMain:
		r.spMain = value
	case SPProcess:
		r.spProcess = value
	case APSR:
		r.apsr = value & flagsMask
	case IPSR:
		r.ipsr = value & IPSRMask
	case EPSR:
		r.epsr = value & EPSRThumb
	case PRIMASK:
		r.primask = value & 1
	case CONTROL:
		r.control = value & (ControlNPriv | ControlSPSel)
	default:
		if reg <= R12 {
			r.r[reg] = value
		}
	}
}

// IndexRegister maps an instruction register number (0-15) to its name.
func IndexRegister(n uint8) Register {
	return Register(n & 0xF)
}

// ReadIndex reads a register by instruction register number; 13 is the
// active SP, 14 LR and 15 PC.
func (r *RegFile) ReadIndex(n uint8) uint32 {
	return r.Read(IndexRegister(n))
}

// WriteIndex writes a register by instruction register number.
func (r *RegFile) WriteIndex(n uint8, value uint32) {
	r.Write(IndexRegister(n), value)
}

// Flags returns the APSR condition flags.
func (r *RegFile) Flags() Flags {
	return flagsFromAPSR(r.apsr)
}

// SetFlags replaces the APSR condition flags.
func (r *RegFile) SetFlags(f Flags) {
	r.apsr = f.bits()
}

// Privileged reports whether code runs privileged: in Handler mode, or in
// Thread mode with CONTROL.nPRIV clear.
func (r *RegFile) Privileged() bool {
	return r.HandlerMode() || r.control&ControlNPriv == 0
}

// HandlerMode reports whether an exception is active (IPSR non-zero).
func (r *RegFile) HandlerMode() bool {
	return r.ipsr != 0
}

// XPSR returns the combined program status register.
func (r *RegFile) XPSR() uint32 {
	return r.apsr | r.ipsr | r.epsr
}

// Clone returns a copy of the register file.
func (r *RegFile) Clone() *RegFile {
	c := *r
	return &c
}

// Equal reports whether two register files hold the same values.
func (r *RegFile) Equal(other *RegFile) bool {
	return *r == *other
}

// Registers returns every named register except the SP alias, in
// declaration order.
func Registers() []Register {
	regs := make([]Register, 0, numRegisters-1)
	for reg := R0; reg < numRegisters; reg++ {
		if reg == SP {
			continue
		}
		regs = append(regs, reg)
	}
	return regs
}
