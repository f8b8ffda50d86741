// Package benchmarks provides a catalog of Thumb sample programs and a
// harness that runs them, checks their results and verifies that replay and
// rollback reproduce the recorded states.
package benchmarks

import (
	"fmt"

	"github.com/sarchlab/m0sim/emu"
)

// Memory layout shared by the sample programs.
const (
	ProgramAddress uint32 = 0x00001000
	DataAddress    uint32 = 0x20000000
	StackTop       uint32 = 0x20008000
)

// GetMicrobenchmarks returns the standard set of sample programs.
func GetMicrobenchmarks() []Benchmark {
	return []Benchmark{
		arithmeticSequential(),
		countdownLoop(),
		factorial(),
		memorySequential(),
		functionCalls(),
		nestedCalls(),
		branchTaken(),
		byteStores(),
	}
}

// GetCoreBenchmarks returns a minimal set for quick validation: a loop,
// a multiply chain and branch-heavy code.
func GetCoreBenchmarks() []Benchmark {
	return []Benchmark{
		countdownLoop(),
		factorial(),
		branchTaken(),
	}
}

// 1. Arithmetic Sequential - independent ADDS to five registers
func arithmeticSequential() Benchmark {
	var code [][]uint16
	for i := 0; i < 4; i++ {
		for rd := uint8(0); rd < 5; rd++ {
			code = append(code, EncodeADDSImm(rd, 1))
		}
	}
	code = append(code, EncodeSVC(0))

	return Benchmark{
		Name:         "arithmetic_sequential",
		Description:  "20 independent ADDS across r0-r4",
		Code:         Join(code...),
		ExpectedHalt: emu.HaltSupervisorCall,
		ExpectedExit: 4,
		Verify:       expectRegisters(map[emu.Register]uint32{emu.R1: 4, emu.R4: 4}),
	}
}

// 2. Countdown Loop - backward conditional branch
func countdownLoop() Benchmark {
	return Benchmark{
		Name:        "countdown_loop",
		Description: "10 iterations of ADDS/SUBS/BNE",
		Code: Join(
			EncodeMOVSImm(0, 0),        // 0x00
			EncodeMOVSImm(1, 10),       // 0x02
			EncodeADDSImm(0, 3),        // 0x04 loop
			EncodeSUBSImm(1, 1),        // 0x06
			EncodeBCond(0x1, 0x8, 0x4), // 0x08 bne loop
			EncodeSVC(0),               // 0x0A
		),
		ExpectedHalt: emu.HaltSupervisorCall,
		ExpectedExit: 30,
		Verify:       expectRegisters(map[emu.Register]uint32{emu.R1: 0}),
	}
}

// 3. Factorial - MULS dependency chain in a loop
func factorial() Benchmark {
	return Benchmark{
		Name:        "factorial",
		Description: "5! with MULS and a countdown",
		Code: Join(
			EncodeMOVSImm(0, 1),        // 0x00
			EncodeMOVSImm(1, 5),        // 0x02
			EncodeMULS(0, 1),           // 0x04 loop
			EncodeSUBSImm(1, 1),        // 0x06
			EncodeBCond(0x1, 0x8, 0x4), // 0x08 bne loop
			EncodeSVC(0),               // 0x0A
		),
		ExpectedHalt: emu.HaltSupervisorCall,
		ExpectedExit: 120,
	}
}

// 4. Memory Sequential - store/load pairs to consecutive words
func memorySequential() Benchmark {
	code := [][]uint16{EncodeMOVSImm(0, 42)}
	for i := uint8(0); i < 10; i++ {
		code = append(code,
			EncodeSTRImm(0, 1, i),
			EncodeLDRImm(0, 1, i),
			EncodeADDSImm(0, 1),
		)
	}
	code = append(code, EncodeSVC(0))

	return Benchmark{
		Name:         "memory_sequential",
		Description:  "10 STR/LDR pairs to consecutive words",
		Code:         Join(code...),
		Registers:    map[emu.Register]uint32{emu.R1: DataAddress},
		ExpectedHalt: emu.HaltSupervisorCall,
		ExpectedExit: 52,
		Verify: func(st *emu.State) error {
			for i := uint32(0); i < 10; i++ {
				if err := expectWord(st, DataAddress+4*i, 42+i); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// 5. Function Calls - BL/BX LR round trips
func functionCalls() Benchmark {
	code := [][]uint16{EncodeMOVSImm(0, 0)} // 0x00
	for at := uint32(0x02); at < 0x16; at += 4 {
		code = append(code, EncodeBL(at, 0x18))
	}
	code = append(code,
		EncodeSVC(0),        // 0x16
		EncodeADDSImm(0, 1), // 0x18 func
		EncodeBX(14),        // 0x1A
	)

	return Benchmark{
		Name:         "function_calls",
		Description:  "5 BL calls to a leaf that increments r0",
		Code:         Join(code...),
		ExpectedHalt: emu.HaltSupervisorCall,
		ExpectedExit: 5,
		Verify: expectRegisters(map[emu.Register]uint32{
			emu.LR: ProgramAddress + 0x16 | 1,
		}),
	}
}

// 6. Nested Calls - PUSH {r4, lr} / POP {r4, pc} around a second call
func nestedCalls() Benchmark {
	return Benchmark{
		Name:        "nested_calls",
		Description: "non-leaf call saving r4 and LR on the stack",
		Code: Join(
			EncodeMOVSImm(0, 1),    // 0x00
			EncodeBL(0x02, 0x08),   // 0x02
			EncodeSVC(0),           // 0x06
			EncodePUSH(1<<4, true), // 0x08 outer
			EncodeMOVSImm(4, 5),    // 0x0A
			EncodeBL(0x0C, 0x14),   // 0x0C
			EncodeADDSReg(0, 0, 4), // 0x10
			EncodePOP(1<<4, true),  // 0x12
			EncodeLSLSImm(0, 0, 3), // 0x14 inner
			EncodeBX(14),           // 0x16
		),
		Registers:    map[emu.Register]uint32{emu.R4: 0x44},
		ExpectedHalt: emu.HaltSupervisorCall,
		ExpectedExit: 13,
		Verify: func(st *emu.State) error {
			if err := expectRegisters(map[emu.Register]uint32{
				emu.R4:     0x44,
				emu.SPMain: StackTop,
			})(st); err != nil {
				return err
			}
			return expectWord(st, StackTop-8, 0x44)
		},
	}
}

// 7. Branch Taken - forward branches over dead instructions
func branchTaken() Benchmark {
	return Benchmark{
		Name:        "branch_taken",
		Description: "unconditional and conditional forward branches",
		Code: Join(
			EncodeMOVSImm(0, 0),          // 0x00
			EncodeB(0x02, 0x06),          // 0x02
			EncodeADDSImm(0, 100),        // 0x04 skipped
			EncodeADDSImm(0, 1),          // 0x06
			EncodeCMPImm(0, 1),           // 0x08
			EncodeBCond(0x0, 0x0A, 0x0E), // 0x0A beq
			EncodeADDSImm(0, 100),        // 0x0C skipped
			EncodeADDSImm(0, 1),          // 0x0E
			EncodeCMPImm(0, 1),           // 0x10
			EncodeBCond(0x0, 0x12, 0x16), // 0x12 beq, not taken
			EncodeNOP(),                  // 0x14
			EncodeSVC(0),                 // 0x16
		),
		ExpectedHalt: emu.HaltSupervisorCall,
		ExpectedExit: 2,
	}
}

// 8. Byte Stores - little-endian assembly of a word, stops on BKPT
func byteStores() Benchmark {
	return Benchmark{
		Name:        "byte_stores",
		Description: "four STRB read back as one little-endian word",
		Code: Join(
			EncodeMOVSImm(0, 0x11),
			EncodeSTRBImm(0, 1, 0),
			EncodeMOVSImm(0, 0x22),
			EncodeSTRBImm(0, 1, 1),
			EncodeMOVSImm(0, 0x33),
			EncodeSTRBImm(0, 1, 2),
			EncodeMOVSImm(0, 0x44),
			EncodeSTRBImm(0, 1, 3),
			EncodeLDRImm(2, 1, 0),
			EncodeBKPT(1),
		),
		Registers:    map[emu.Register]uint32{emu.R1: DataAddress + 0x100},
		ExpectedHalt: emu.HaltBreakpoint,
		Verify:       expectRegisters(map[emu.Register]uint32{emu.R2: 0x44332211}),
	}
}

func expectRegisters(want map[emu.Register]uint32) func(*emu.State) error {
	return func(st *emu.State) error {
		for reg, v := range want {
			if got := st.Regs.Read(reg); got != v {
				return fmt.Errorf("%s = 0x%08X, want 0x%08X", reg, got, v)
			}
		}
		return nil
	}
}

func expectWord(st *emu.State, addr, want uint32) error {
	got, err := st.Mem.Read32(addr)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("[0x%08X] = 0x%08X, want 0x%08X", addr, got, want)
	}
	return nil
}
