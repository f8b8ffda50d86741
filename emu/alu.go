// Package emu provides functional ARMv6-M emulation with reversible execution.
package emu

// ALU computes ARMv6-M arithmetic, logic and shift results together with the
// flags they produce. It never touches state: mutation builders feed it the
// current operand values and record what it returns.
type ALU struct{}

// AddWithCarry returns x + y + carry with the resulting carry and overflow.
func (ALU) AddWithCarry(x, y uint32, carry bool) (result uint32, c, v bool) {
	var cin uint64
	if carry {
		cin = 1
	}
	unsigned := uint64(x) + uint64(y) + cin
	result = uint32(unsigned)
	c = unsigned>>32 != 0

	signed := int64(int32(x)) + int64(int32(y)) + int64(cin)
	v = signed != int64(int32(result))
	return result, c, v
}

// ADD performs x + y and returns the NZCV flags.
func (a ALU) ADD(x, y uint32, old Flags) (uint32, Flags) {
	r, c, v := a.AddWithCarry(x, y, false)
	return r, arithFlags(r, c, v)
}

// ADC performs x + y + C.
func (a ALU) ADC(x, y uint32, old Flags) (uint32, Flags) {
	r, c, v := a.AddWithCarry(x, y, old.C)
	return r, arithFlags(r, c, v)
}

// SUB performs x - y.
func (a ALU) SUB(x, y uint32, old Flags) (uint32, Flags) {
	r, c, v := a.AddWithCarry(x, ^y, true)
	return r, arithFlags(r, c, v)
}

// SBC performs x - y - NOT(C).
func (a ALU) SBC(x, y uint32, old Flags) (uint32, Flags) {
	r, c, v := a.AddWithCarry(x, ^y, old.C)
	return r, arithFlags(r, c, v)
}

// RSB performs y - x (0 - x for the Thumb encoding).
func (a ALU) RSB(x, y uint32, old Flags) (uint32, Flags) {
	r, c, v := a.AddWithCarry(^x, y, true)
	return r, arithFlags(r, c, v)
}

// AND performs x & y. C and V are preserved.
func (ALU) AND(x, y uint32, old Flags) (uint32, Flags) {
	r := x & y
	return r, logicFlags(r, old.C, old)
}

// EOR performs x ^ y.
func (ALU) EOR(x, y uint32, old Flags) (uint32, Flags) {
	r := x ^ y
	return r, logicFlags(r, old.C, old)
}

// ORR performs x | y.
func (ALU) ORR(x, y uint32, old Flags) (uint32, Flags) {
	r := x | y
	return r, logicFlags(r, old.C, old)
}

// BIC performs x &^ y.
func (ALU) BIC(x, y uint32, old Flags) (uint32, Flags) {
	r := x &^ y
	return r, logicFlags(r, old.C, old)
}

// MVN performs ^y.
func (ALU) MVN(_, y uint32, old Flags) (uint32, Flags) {
	r := ^y
	return r, logicFlags(r, old.C, old)
}

// MUL performs the low 32 bits of x * y. C and V are preserved.
func (ALU) MUL(x, y uint32, old Flags) (uint32, Flags) {
	r := x * y
	return r, logicFlags(r, old.C, old)
}

// LSL shifts x left by amount.
func (ALU) LSL(x, amount uint32, old Flags) (uint32, Flags) {
	r, c := shiftLSL(x, amount, old.C)
	return r, logicFlags(r, c, old)
}

// LSR shifts x right logically by amount.
func (ALU) LSR(x, amount uint32, old Flags) (uint32, Flags) {
	r, c := shiftLSR(x, amount, old.C)
	return r, logicFlags(r, c, old)
}

// ASR shifts x right arithmetically by amount.
func (ALU) ASR(x, amount uint32, old Flags) (uint32, Flags) {
	r, c := shiftASR(x, amount, old.C)
	return r, logicFlags(r, c, old)
}

// ROR rotates x right by amount.
func (ALU) ROR(x, amount uint32, old Flags) (uint32, Flags) {
	r, c := shiftROR(x, amount, old.C)
	return r, logicFlags(r, c, old)
}

func arithFlags(r uint32, c, v bool) Flags {
	return Flags{N: r>>31 != 0, Z: r == 0, C: c, V: v}
}

func logicFlags(r uint32, c bool, old Flags) Flags {
	return Flags{N: r>>31 != 0, Z: r == 0, C: c, V: old.V}
}

// Shifts follow the register-shift rules: an amount of 0 leaves the value and
// carry unchanged; amounts of 32 and above saturate.

func shiftLSL(x, n uint32, cin bool) (uint32, bool) {
	switch {
	case n == 0:
		return x, cin
	case n < 32:
		return x << n, x&(1<<(32-n)) != 0
	case n == 32:
		return 0, x&1 != 0
	default:
		return 0, false
	}
}

func shiftLSR(x, n uint32, cin bool) (uint32, bool) {
	switch {
	case n == 0:
		return x, cin
	case n < 32:
		return x >> n, x&(1<<(n-1)) != 0
	case n == 32:
		return 0, x>>31 != 0
	default:
		return 0, false
	}
}

func shiftASR(x, n uint32, cin bool) (uint32, bool) {
	switch {
	case n == 0:
		return x, cin
	case n < 32:
		return uint32(int32(x) >> n), x&(1<<(n-1)) != 0
	default:
		return uint32(int32(x) >> 31), x>>31 != 0
	}
}

func shiftROR(x, n uint32, cin bool) (uint32, bool) {
	if n == 0 {
		return x, cin
	}
	n &= 31
	r := x
	if n != 0 {
		r = x>>n | x<<(32-n)
	}
	return r, r>>31 != 0
}

// REV reverses the byte order of a word.
func (ALU) REV(x uint32) uint32 {
	return x>>24 | (x>>8)&0xFF00 | (x<<8)&0xFF0000 | x<<24
}

// REV16 reverses the byte order of each halfword.
func (ALU) REV16(x uint32) uint32 {
	return (x>>8)&0x00FF00FF | (x<<8)&0xFF00FF00
}

// REVSH reverses the low halfword and sign-extends it.
func (ALU) REVSH(x uint32) uint32 {
	h := uint16(x>>8)&0xFF | uint16(x<<8)
	return uint32(int32(int16(h)))
}

// SXTB sign-extends the low byte.
func (ALU) SXTB(x uint32) uint32 { return uint32(int32(int8(x))) }

// SXTH sign-extends the low halfword.
func (ALU) SXTH(x uint32) uint32 { return uint32(int32(int16(x))) }

// UXTB zero-extends the low byte.
func (ALU) UXTB(x uint32) uint32 { return x & 0xFF }

// UXTH zero-extends the low halfword.
func (ALU) UXTH(x uint32) uint32 { return x & 0xFFFF }
