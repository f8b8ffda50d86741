package benchmarks

import "encoding/binary"

// Helper functions for building Thumb programs. Every encoder returns the
// halfwords of one instruction in execution order.

// BuildProgram lays halfwords out in the given instruction byte order.
func BuildProgram(order binary.ByteOrder, halfwords ...uint16) []byte {
	program := make([]byte, 2*len(halfwords))
	for i, hw := range halfwords {
		order.PutUint16(program[2*i:], hw)
	}
	return program
}

// Join concatenates instruction encodings.
func Join(encodings ...[]uint16) []uint16 {
	var out []uint16
	for _, enc := range encodings {
		out = append(out, enc...)
	}
	return out
}

// EncodeMOVSImm encodes MOVS Rd, #imm8.
func EncodeMOVSImm(rd uint8, imm uint8) []uint16 {
	return []uint16{0x2000 | uint16(rd&7)<<8 | uint16(imm)}
}

// EncodeADDSImm encodes ADDS Rdn, #imm8.
func EncodeADDSImm(rdn uint8, imm uint8) []uint16 {
	return []uint16{0x3000 | uint16(rdn&7)<<8 | uint16(imm)}
}

// EncodeSUBSImm encodes SUBS Rdn, #imm8.
func EncodeSUBSImm(rdn uint8, imm uint8) []uint16 {
	return []uint16{0x3800 | uint16(rdn&7)<<8 | uint16(imm)}
}

// EncodeCMPImm encodes CMP Rn, #imm8.
func EncodeCMPImm(rn uint8, imm uint8) []uint16 {
	return []uint16{0x2800 | uint16(rn&7)<<8 | uint16(imm)}
}

// EncodeADDSReg encodes ADDS Rd, Rn, Rm.
func EncodeADDSReg(rd, rn, rm uint8) []uint16 {
	return []uint16{0x1800 | uint16(rm&7)<<6 | uint16(rn&7)<<3 | uint16(rd&7)}
}

// EncodeSUBSReg encodes SUBS Rd, Rn, Rm.
func EncodeSUBSReg(rd, rn, rm uint8) []uint16 {
	return []uint16{0x1A00 | uint16(rm&7)<<6 | uint16(rn&7)<<3 | uint16(rd&7)}
}

// EncodeMULS encodes MULS Rdm, Rn, Rdm.
func EncodeMULS(rdm, rn uint8) []uint16 {
	return []uint16{0x4340 | uint16(rn&7)<<3 | uint16(rdm&7)}
}

// EncodeLSLSImm encodes LSLS Rd, Rm, #imm5.
func EncodeLSLSImm(rd, rm uint8, imm uint8) []uint16 {
	return []uint16{uint16(imm&31)<<6 | uint16(rm&7)<<3 | uint16(rd&7)}
}

// EncodeEORS encodes EORS Rdn, Rm.
func EncodeEORS(rdn, rm uint8) []uint16 {
	return []uint16{0x4040 | uint16(rm&7)<<3 | uint16(rdn&7)}
}

// EncodeSTRImm encodes STR Rt, [Rn, #imm5*4].
func EncodeSTRImm(rt, rn uint8, word uint8) []uint16 {
	return []uint16{0x6000 | uint16(word&31)<<6 | uint16(rn&7)<<3 | uint16(rt&7)}
}

// EncodeLDRImm encodes LDR Rt, [Rn, #imm5*4].
func EncodeLDRImm(rt, rn uint8, word uint8) []uint16 {
	return []uint16{0x6800 | uint16(word&31)<<6 | uint16(rn&7)<<3 | uint16(rt&7)}
}

// EncodeSTRBImm encodes STRB Rt, [Rn, #imm5].
func EncodeSTRBImm(rt, rn uint8, imm uint8) []uint16 {
	return []uint16{0x7000 | uint16(imm&31)<<6 | uint16(rn&7)<<3 | uint16(rt&7)}
}

// EncodePUSH encodes PUSH with a low register list, optionally with LR.
func EncodePUSH(list uint8, lr bool) []uint16 {
	hw := 0xB400 | uint16(list)
	if lr {
		hw |= 1 << 8
	}
	return []uint16{hw}
}

// EncodePOP encodes POP with a low register list, optionally with PC.
func EncodePOP(list uint8, pc bool) []uint16 {
	hw := 0xBC00 | uint16(list)
	if pc {
		hw |= 1 << 8
	}
	return []uint16{hw}
}

// EncodeBCond encodes B<cond> from the instruction at `from` to `to`.
func EncodeBCond(cond uint8, from, to uint32) []uint16 {
	offset := int32(to-from-4) >> 1
	return []uint16{0xD000 | uint16(cond&0xF)<<8 | uint16(uint8(offset))}
}

// EncodeB encodes an unconditional B from `from` to `to`.
func EncodeB(from, to uint32) []uint16 {
	offset := int32(to-from-4) >> 1
	return []uint16{0xE000 | uint16(offset)&0x7FF}
}

// EncodeBL encodes the 32-bit BL from `from` to `to`.
func EncodeBL(from, to uint32) []uint16 {
	imm := uint32(int32(to-from-4)) >> 1
	s := imm >> 23 & 1
	i1 := imm >> 22 & 1
	i2 := imm >> 21 & 1
	j1 := (^i1 ^ s) & 1
	j2 := (^i2 ^ s) & 1

	hw1 := 0xF000 | uint16(s)<<10 | uint16(imm>>11&0x3FF)
	hw2 := 0xD000 | uint16(j1)<<13 | uint16(j2)<<11 | uint16(imm&0x7FF)
	return []uint16{hw1, hw2}
}

// EncodeBX encodes BX Rm.
func EncodeBX(rm uint8) []uint16 {
	return []uint16{0x4700 | uint16(rm&15)<<3}
}

// EncodeNOP encodes NOP.
func EncodeNOP() []uint16 {
	return []uint16{0xBF00}
}

// EncodeSVC encodes SVC #imm8.
func EncodeSVC(imm uint8) []uint16 {
	return []uint16{0xDF00 | uint16(imm)}
}

// EncodeBKPT encodes BKPT #imm8.
func EncodeBKPT(imm uint8) []uint16 {
	return []uint16{0xBE00 | uint16(imm)}
}
