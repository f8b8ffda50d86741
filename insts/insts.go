// Package insts provides ARMv6-M Thumb instruction definitions and decoding.
//
// This package implements decoding of Thumb machine code into structured
// instruction representations. Every encoding of the ARMv6-M instruction set
// is described by one entry of a declarative table (fixed prefix bits,
// prefix length and an ordered list of fields); a single generic routine
// extracts the fields MSB-first. Overlapping encodings are resolved by the
// order of the table: most specific encoding first within each mnemonic
// group, first match wins across the whole set.
//
// Usage:
//
//	decoder := insts.NewDecoder()
//	inst, n, err := decoder.Decode([]byte{0x31, 0x05}) // ADDS R1, #5
//	fmt.Printf("Op: %v, Rd: %d, Imm: %d, size: %d\n", inst.Op, inst.Rd, inst.Imm, n)
package insts
