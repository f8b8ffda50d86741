package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/m0sim/emu"
	"github.com/sarchlab/m0sim/insts"
)

var _ = Describe("BuildMutation", func() {
	var s *emu.State

	BeforeEach(func() {
		s = emu.NewState(emu.WithCapacity(1 << 20))
		s.Regs.Write(emu.PC, 0x1000)
		s.Regs.Write(emu.SPMain, 0x8000)
	})

	build := func(halfwords ...uint16) emu.Mutation {
		m, err := emu.BuildMutation(s, decode(halfwords...))
		ExpectWithOffset(1, err).ToNot(HaveOccurred())
		return m
	}

	run := func(halfwords ...uint16) emu.Mutation {
		m := build(halfwords...)
		ExpectWithOffset(1, m.Apply(s)).To(Succeed())
		return m
	}

	It("should not touch the state", func() {
		s.Regs.Write(emu.R1, 10)
		before := s.Clone()

		build(0x3105) // adds r1, #5

		Expect(s.Equal(before)).To(BeTrue())
	})

	Describe("data processing", func() {
		It("should add an immediate and set flags", func() {
			s.Regs.Write(emu.R1, 0xFFFFFFFB)

			m := run(0x3105) // adds r1, #5

			Expect(m).To(BeAssignableToTypeOf(&emu.DataMutation{}))
			Expect(m.(*emu.DataMutation).Result).To(BeZero())
			Expect(s.Regs.Read(emu.R1)).To(BeZero())
			Expect(s.Regs.Flags()).To(Equal(emu.Flags{Z: true, C: true}))
			Expect(s.Regs.Read(emu.PC)).To(Equal(uint32(0x1002)))
		})

		It("should add registers", func() {
			s.Regs.Write(emu.R0, 3)
			s.Regs.Write(emu.R1, 4)

			run(0x1842) // adds r2, r0, r1

			Expect(s.Regs.Read(emu.R2)).To(Equal(uint32(7)))
		})

		It("should move an immediate", func() {
			run(0x2005) // movs r0, #5

			Expect(s.Regs.Read(emu.R0)).To(Equal(uint32(5)))
		})

		It("should shift by an immediate", func() {
			s.Regs.Write(emu.R1, 3)

			run(0x0088) // lsls r0, r1, #2

			Expect(s.Regs.Read(emu.R0)).To(Equal(uint32(12)))
		})

		It("should multiply", func() {
			s.Regs.Write(emu.R0, 6)
			s.Regs.Write(emu.R1, 7)

			run(0x4348) // muls r0, r1, r0

			Expect(s.Regs.Read(emu.R0)).To(Equal(uint32(42)))
		})

		It("should not set flags for a high-register add", func() {
			s.Regs.Write(emu.R9, 1)
			s.Regs.Write(emu.R2, 0xFFFFFFFF)

			run(0x4491) // add r9, r2

			Expect(s.Regs.Read(emu.R9)).To(BeZero())
			Expect(s.Regs.Read(emu.APSR)).To(BeZero())
		})

		It("should adjust SP", func() {
			m := run(0xB081) // sub sp, #4

			Expect(s.Regs.Read(emu.SP)).To(Equal(uint32(0x7FFC)))
			Expect(m.RegisterChanges()).To(ContainElement(emu.RegisterChange{
				Reg: emu.SPMain, Old: 0x8000, New: 0x7FFC,
			}))
		})

		It("should write the active stack bank", func() {
			s.Regs.Write(emu.CONTROL, emu.ControlSPSel)
			s.Regs.Write(emu.SPProcess, 0x4000)
			s.Regs.Write(emu.R0, 0x4400)

			m := run(0x4685) // mov sp, r0

			Expect(s.Regs.Read(emu.SPProcess)).To(Equal(uint32(0x4400)))
			Expect(s.Regs.Read(emu.SPMain)).To(Equal(uint32(0x8000)))
			Expect(m.RegisterChanges()[0].Reg).To(Equal(emu.SPProcess))
		})

		It("should compute a word-aligned address for ADR", func() {
			s.Regs.Write(emu.PC, 0x1002)

			run(0xA001) // adr r0, #4

			Expect(s.Regs.Read(emu.R0)).To(Equal(uint32(0x1008)))
		})
	})

	Describe("compare", func() {
		It("should only update flags", func() {
			s.Regs.Write(emu.R0, 5)

			m := run(0x2805) // cmp r0, #5

			Expect(m).To(BeAssignableToTypeOf(&emu.CompareMutation{}))
			Expect(m.(*emu.CompareMutation).Flags).To(Equal(emu.Flags{Z: true, C: true}))
			Expect(s.Regs.Read(emu.R0)).To(Equal(uint32(5)))
			Expect(m.RegisterChanges()).To(HaveLen(2))
		})
	})

	Describe("loads and stores", func() {
		It("should store a word with old and new bytes", func() {
			s.Regs.Write(emu.R0, 0xDEADBEEF)
			s.Regs.Write(emu.R1, 0x2000)
			Expect(s.Mem.Write32(0x2004, 0x01020304)).To(Succeed())

			m := run(0x6048) // str r0, [r1, #4]

			Expect(s.Mem.Read32(0x2004)).To(Equal(uint32(0xDEADBEEF)))
			Expect(m.MemoryChanges()).To(Equal([]emu.MemoryChange{{
				Addr: 0x2004,
				Old:  []byte{0x04, 0x03, 0x02, 0x01},
				New:  []byte{0xEF, 0xBE, 0xAD, 0xDE},
			}}))
			Expect(m.(*emu.StoreMutation).EffectiveAddress).To(Equal(uint32(0x2004)))
		})

		It("should store a byte", func() {
			s.Regs.Write(emu.R0, 0x1FF)
			s.Regs.Write(emu.R1, 0x2001)

			run(0x7008) // strb r0, [r1, #0]

			Expect(s.Mem.Read8(0x2001)).To(Equal(uint8(0xFF)))
			Expect(s.Mem.Read8(0x2002)).To(BeZero())
		})

		It("should load a word", func() {
			s.Regs.Write(emu.R1, 0x2000)
			Expect(s.Mem.Write32(0x2000, 77)).To(Succeed())

			run(0x680A) // ldr r2, [r1, #0]

			Expect(s.Regs.Read(emu.R2)).To(Equal(uint32(77)))
		})

		It("should load relative to the aligned PC", func() {
			s.Regs.Write(emu.PC, 0x1002)
			Expect(s.Mem.Write32(0x1008, 0xCAFE)).To(Succeed())

			run(0x4801) // ldr r0, [pc, #4]

			Expect(s.Regs.Read(emu.R0)).To(Equal(uint32(0xCAFE)))
		})

		It("should sign-extend LDRSB", func() {
			s.Regs.Write(emu.R1, 0x2000)
			s.Regs.Write(emu.R2, 3)
			Expect(s.Mem.Write8(0x2003, 0x80)).To(Succeed())

			run(0x5688) // ldrsb r0, [r1, r2]

			Expect(s.Regs.Read(emu.R0)).To(Equal(uint32(0xFFFFFF80)))
		})

		It("should fault on an unaligned word and leave the state alone", func() {
			s.Regs.Write(emu.R1, 0x2002)
			before := s.Clone()

			_, err := emu.BuildMutation(s, decode(0x6008)) // str r0, [r1, #0]

			Expect(err).To(MatchError(emu.ErrUnalignedAccess))
			Expect(s.Equal(before)).To(BeTrue())
		})

		It("should fault out of bounds", func() {
			s.Regs.Write(emu.R1, 1<<20)

			_, err := emu.BuildMutation(s, decode(0x680A))

			Expect(err).To(MatchError(emu.ErrOutOfBoundsAccess))
		})
	})

	Describe("multiple transfers", func() {
		It("should push registers ascending with SP lowered", func() {
			for i := 0; i < 4; i++ {
				s.Regs.WriteIndex(uint8(i), uint32(0x10+i))
			}

			m := run(0xB40F) // push {r0, r1, r2, r3}

			Expect(s.Regs.Read(emu.SP)).To(Equal(uint32(0x7FF0)))
			for i := 0; i < 4; i++ {
				Expect(s.Mem.Read32(0x7FF0 + uint32(4*i))).To(Equal(uint32(0x10 + i)))
			}
			p := m.(*emu.PushMutation)
			Expect(p.OldSP).To(Equal(uint32(0x8000)))
			Expect(p.NewSP).To(Equal(uint32(0x7FF0)))
			Expect(p.Registers).To(Equal([]uint8{0, 1, 2, 3}))
		})

		It("should push LR last", func() {
			s.Regs.Write(emu.R4, 4)
			s.Regs.Write(emu.LR, 0x1235)

			run(0xB510) // push {r4, lr}

			Expect(s.Mem.Read32(0x7FF8)).To(Equal(uint32(4)))
			Expect(s.Mem.Read32(0x7FFC)).To(Equal(uint32(0x1235)))
		})

		It("should pop PC last and clear bit 0", func() {
			Expect(s.Mem.Write32(0x8000, 9)).To(Succeed())
			Expect(s.Mem.Write32(0x8004, 0x2001)).To(Succeed())

			m := run(0xBD10) // pop {r4, pc}

			Expect(s.Regs.Read(emu.R4)).To(Equal(uint32(9)))
			Expect(s.Regs.Read(emu.PC)).To(Equal(uint32(0x2000)))
			Expect(s.Regs.Read(emu.SP)).To(Equal(uint32(0x8008)))
			Expect(m.Branches()).To(BeTrue())
			changes := m.RegisterChanges()
			Expect(changes[len(changes)-1].Reg).To(Equal(emu.PC))
		})

		It("should store multiple with writeback", func() {
			s.Regs.Write(emu.R0, 0x3000)
			s.Regs.Write(emu.R1, 1)
			s.Regs.Write(emu.R2, 2)

			run(0xC006) // stm r0!, {r1, r2}

			Expect(s.Mem.Read32(0x3000)).To(Equal(uint32(1)))
			Expect(s.Mem.Read32(0x3004)).To(Equal(uint32(2)))
			Expect(s.Regs.Read(emu.R0)).To(Equal(uint32(0x3008)))
		})

		It("should not write back a base that is loaded", func() {
			s.Regs.Write(emu.R0, 0x3000)
			Expect(s.Mem.Write32(0x3000, 5)).To(Succeed())
			Expect(s.Mem.Write32(0x3004, 6)).To(Succeed())

			m := run(0xC803) // ldm r0, {r0, r1}

			Expect(s.Regs.Read(emu.R0)).To(Equal(uint32(5)))
			Expect(s.Regs.Read(emu.R1)).To(Equal(uint32(6)))
			Expect(m.(*emu.LoadMultipleMutation).Writeback).To(BeFalse())
		})
	})

	Describe("branches", func() {
		It("should take a conditional branch when the condition holds", func() {
			s.Regs.SetFlags(emu.Flags{Z: true})

			m := run(0xD0FE) // beq #-4

			Expect(s.Regs.Read(emu.PC)).To(Equal(uint32(0x1000)))
			Expect(m.(*emu.BranchMutation).Taken).To(BeTrue())
		})

		It("should fall through when the condition fails", func() {
			m := run(0xD0FE)

			Expect(s.Regs.Read(emu.PC)).To(Equal(uint32(0x1002)))
			Expect(m.Branches()).To(BeFalse())
			Expect(m.(*emu.BranchMutation).Taken).To(BeFalse())
		})

		It("should link on BL", func() {
			m := run(0xF000, 0xF800) // bl #0

			Expect(s.Regs.Read(emu.PC)).To(Equal(uint32(0x1004)))
			Expect(s.Regs.Read(emu.LR)).To(Equal(uint32(0x1005)))
			Expect(m.(*emu.BranchMutation).Link).To(BeTrue())
		})

		It("should return through BX LR", func() {
			s.Regs.Write(emu.LR, 0x2001)

			run(0x4770) // bx lr

			Expect(s.Regs.Read(emu.PC)).To(Equal(uint32(0x2000)))
		})

		It("should link the halfword after BLX", func() {
			s.Regs.Write(emu.R3, 0x3001)

			run(0x4798) // blx r3

			Expect(s.Regs.Read(emu.PC)).To(Equal(uint32(0x3000)))
			Expect(s.Regs.Read(emu.LR)).To(Equal(uint32(0x1003)))
		})
	})

	Describe("special registers", func() {
		It("should read PRIMASK", func() {
			s.Regs.Write(emu.PRIMASK, 1)

			run(0xF3EF, 0x8010) // mrs r0, primask

			Expect(s.Regs.Read(emu.R0)).To(Equal(uint32(1)))
		})

		It("should switch the stack bank with MSR CONTROL", func() {
			s.Regs.Write(emu.R1, emu.ControlSPSel)

			run(0xF381, 0x8814) // msr control, r1

			Expect(s.Regs.ActiveSP()).To(Equal(emu.SPProcess))
		})

		It("should ignore privileged writes when unprivileged", func() {
			s.Regs.Write(emu.CONTROL, emu.ControlNPriv)

			run(0xB672) // cpsid i

			Expect(s.Regs.Read(emu.PRIMASK)).To(BeZero())
			Expect(s.Regs.Read(emu.PC)).To(Equal(uint32(0x1002)))
		})

		It("should mask interrupts with CPSID", func() {
			m := run(0xB672)

			Expect(m).To(BeAssignableToTypeOf(&emu.SpecialRegisterMutation{}))
			Expect(s.Regs.Read(emu.PRIMASK)).To(Equal(uint32(1)))
		})
	})

	Describe("traps and hints", func() {
		It("should only advance PC for NOP", func() {
			m := run(0xBF00)

			Expect(m).To(BeAssignableToTypeOf(&emu.HintMutation{}))
			Expect(m.RegisterChanges()).To(Equal([]emu.RegisterChange{{
				Reg: emu.PC, Old: 0x1000, New: 0x1002,
			}}))
		})

		It("should record a breakpoint", func() {
			m := run(0xBE07)

			t := m.(*emu.TrapMutation)
			Expect(t.Reason).To(Equal(emu.HaltBreakpoint))
			Expect(t.Imm).To(Equal(uint32(7)))
		})

		It("should raise UDF as an undefined instruction", func() {
			_, err := emu.BuildMutation(s, decode(0xDE01))

			Expect(err).To(MatchError(insts.ErrUndefinedInstruction))
			var undef *insts.UndefinedInstructionError
			Expect(err).To(BeAssignableToTypeOf(undef))
			Expect(err.(*insts.UndefinedInstructionError).Bytes).To(Equal([]byte{0xDE, 0x01}))
		})
	})

	Describe("lifecycle", func() {
		It("should reject a second Apply", func() {
			m := run(0x2005)

			Expect(m.Applied()).To(BeTrue())
			Expect(m.Apply(s)).To(MatchError(emu.ErrDoubleApply))
		})

		It("should reject Rollback before Apply", func() {
			m := build(0x2005)

			Expect(m.Rollback(s)).To(MatchError(emu.ErrDoubleRollback))
		})

		It("should reject a second Rollback", func() {
			m := run(0x2005)

			Expect(m.Rollback(s)).To(Succeed())
			Expect(m.Applied()).To(BeFalse())
			Expect(m.Rollback(s)).To(MatchError(emu.ErrDoubleRollback))
		})

		It("should re-apply after a rollback", func() {
			m := run(0x2005)
			Expect(m.Rollback(s)).To(Succeed())
			Expect(s.Regs.Read(emu.R0)).To(BeZero())

			Expect(m.Apply(s)).To(Succeed())
			Expect(s.Regs.Read(emu.R0)).To(Equal(uint32(5)))
		})
	})

	DescribeTable("rollback restores every touched location",
		func(halfwords ...uint16) {
			for i := uint8(0); i < 8; i++ {
				s.Regs.WriteIndex(i, 0x3000+uint32(i)*8)
			}
			s.Regs.Write(emu.LR, 0x4001)
			s.Regs.SetFlags(emu.Flags{Z: true, C: true})
			Expect(s.Mem.Write32(0x7FF8, 0x5001)).To(Succeed())
			Expect(s.Mem.Write32(0x7FFC, 0x6001)).To(Succeed())
			before := s.Clone()

			m := run(halfwords...)
			Expect(m.Rollback(s)).To(Succeed())

			Expect(s.Equal(before)).To(BeTrue())
			Expect(s.Regs.Read(emu.PC)).To(Equal(uint32(0x1000)))
		},
		Entry("adds imm", uint16(0x3105)),
		Entry("subs reg", uint16(0x1A42)),
		Entry("movs", uint16(0x2005)),
		Entry("cmp", uint16(0x2805)),
		Entry("str", uint16(0x6048)),
		Entry("strh", uint16(0x8048)),
		Entry("ldr", uint16(0x680A)),
		Entry("stm", uint16(0xC006)),
		Entry("ldm", uint16(0xC806)),
		Entry("push", uint16(0xB5F0)),
		Entry("pop", uint16(0xBC03)),
		Entry("pop pc", uint16(0xBD00)),
		Entry("beq", uint16(0xD0FE)),
		Entry("bl", uint16(0xF000), uint16(0xF800)),
		Entry("bx", uint16(0x4770)),
		Entry("msr", uint16(0xF381), uint16(0x8814)),
		Entry("cpsid", uint16(0xB672)),
		Entry("svc", uint16(0xDF00)),
		Entry("nop", uint16(0xBF00)),
	)
})
