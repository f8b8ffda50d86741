package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/m0sim/emu"
	"github.com/sarchlab/m0sim/insts"
)

var _ = Describe("ALU", func() {
	var alu emu.ALU

	Describe("arithmetic flags", func() {
		It("should set Z and C when an add wraps to zero", func() {
			r, f := alu.ADD(0xFFFFFFFF, 1, emu.Flags{})

			Expect(r).To(BeZero())
			Expect(f).To(Equal(emu.Flags{Z: true, C: true}))
		})

		It("should set N and V on signed overflow", func() {
			r, f := alu.ADD(0x7FFFFFFF, 1, emu.Flags{})

			Expect(r).To(Equal(uint32(0x80000000)))
			Expect(f).To(Equal(emu.Flags{N: true, V: true}))
		})

		It("should set C when a subtraction does not borrow", func() {
			r, f := alu.SUB(5, 5, emu.Flags{})

			Expect(r).To(BeZero())
			Expect(f).To(Equal(emu.Flags{Z: true, C: true}))
		})

		It("should clear C when a subtraction borrows", func() {
			r, f := alu.SUB(3, 5, emu.Flags{})

			Expect(r).To(Equal(uint32(0xFFFFFFFE)))
			Expect(f).To(Equal(emu.Flags{N: true}))
		})

		It("should add the carry in ADC", func() {
			r, _ := alu.ADC(1, 2, emu.Flags{C: true})
			Expect(r).To(Equal(uint32(4)))
		})

		It("should subtract NOT(C) in SBC", func() {
			r, _ := alu.SBC(10, 3, emu.Flags{})
			Expect(r).To(Equal(uint32(6)))

			r, _ = alu.SBC(10, 3, emu.Flags{C: true})
			Expect(r).To(Equal(uint32(7)))
		})

		It("should negate with RSB", func() {
			r, f := alu.RSB(1, 0, emu.Flags{})

			Expect(r).To(Equal(uint32(0xFFFFFFFF)))
			Expect(f.N).To(BeTrue())
			Expect(f.C).To(BeFalse())
		})
	})

	Describe("logic", func() {
		It("should preserve C and V", func() {
			old := emu.Flags{C: true, V: true}
			r, f := alu.AND(0xF0, 0x0F, old)

			Expect(r).To(BeZero())
			Expect(f).To(Equal(emu.Flags{Z: true, C: true, V: true}))
		})

		It("should compute EOR, ORR, BIC and MVN", func() {
			r, _ := alu.EOR(0xFF, 0x0F, emu.Flags{})
			Expect(r).To(Equal(uint32(0xF0)))
			r, _ = alu.ORR(0xF0, 0x0F, emu.Flags{})
			Expect(r).To(Equal(uint32(0xFF)))
			r, _ = alu.BIC(0xFF, 0x0F, emu.Flags{})
			Expect(r).To(Equal(uint32(0xF0)))
			r, f := alu.MVN(0, 0, emu.Flags{})
			Expect(r).To(Equal(uint32(0xFFFFFFFF)))
			Expect(f.N).To(BeTrue())
		})

		It("should keep the low word of MUL", func() {
			r, _ := alu.MUL(0x10000, 0x10001, emu.Flags{})
			Expect(r).To(Equal(uint32(0x10000)))
		})
	})

	DescribeTable("shifts",
		func(shift func(emu.ALU, uint32, uint32, emu.Flags) (uint32, emu.Flags),
			x, amount uint32, carryIn bool, want uint32, carryOut bool) {
			r, f := shift(alu, x, amount, emu.Flags{C: carryIn})

			Expect(r).To(Equal(want))
			Expect(f.C).To(Equal(carryOut))
		},
		Entry("LSL by 0 keeps carry", emu.ALU.LSL, uint32(1), uint32(0), true, uint32(1), true),
		Entry("LSL by 1", emu.ALU.LSL, uint32(0x80000001), uint32(1), false, uint32(2), true),
		Entry("LSL by 32", emu.ALU.LSL, uint32(1), uint32(32), false, uint32(0), true),
		Entry("LSL by 33", emu.ALU.LSL, uint32(1), uint32(33), true, uint32(0), false),
		Entry("LSR by 1", emu.ALU.LSR, uint32(3), uint32(1), false, uint32(1), true),
		Entry("LSR by 32", emu.ALU.LSR, uint32(0x80000000), uint32(32), false, uint32(0), true),
		Entry("ASR by 4", emu.ALU.ASR, uint32(0x80000000), uint32(4), false, uint32(0xF8000000), false),
		Entry("ASR by 40", emu.ALU.ASR, uint32(0x80000000), uint32(40), false, uint32(0xFFFFFFFF), true),
		Entry("ROR by 8", emu.ALU.ROR, uint32(0x000000FF), uint32(8), false, uint32(0xFF000000), true),
		Entry("ROR by 32", emu.ALU.ROR, uint32(0x80000000), uint32(32), false, uint32(0x80000000), true),
	)

	It("should reverse bytes", func() {
		Expect(alu.REV(0x11223344)).To(Equal(uint32(0x44332211)))
		Expect(alu.REV16(0x11223344)).To(Equal(uint32(0x22114433)))
		Expect(alu.REVSH(0x00000080)).To(Equal(uint32(0xFFFF8000)))
	})

	It("should extend bytes and halfwords", func() {
		Expect(alu.SXTB(0x80)).To(Equal(uint32(0xFFFFFF80)))
		Expect(alu.SXTH(0x7FFF)).To(Equal(uint32(0x7FFF)))
		Expect(alu.UXTB(0x1FF)).To(Equal(uint32(0xFF)))
		Expect(alu.UXTH(0x1FFFF)).To(Equal(uint32(0xFFFF)))
	})
})

var _ = Describe("CheckCondition", func() {
	DescribeTable("condition codes",
		func(cond insts.Cond, f emu.Flags, want bool) {
			Expect(emu.CheckCondition(cond, f)).To(Equal(want))
		},
		Entry("EQ taken", insts.CondEQ, emu.Flags{Z: true}, true),
		Entry("EQ not taken", insts.CondEQ, emu.Flags{}, false),
		Entry("NE taken", insts.CondNE, emu.Flags{}, true),
		Entry("CS taken", insts.CondCS, emu.Flags{C: true}, true),
		Entry("CC taken", insts.CondCC, emu.Flags{}, true),
		Entry("MI taken", insts.CondMI, emu.Flags{N: true}, true),
		Entry("PL taken", insts.CondPL, emu.Flags{}, true),
		Entry("VS taken", insts.CondVS, emu.Flags{V: true}, true),
		Entry("VC not taken", insts.CondVC, emu.Flags{V: true}, false),
		Entry("HI taken", insts.CondHI, emu.Flags{C: true}, true),
		Entry("HI not taken on Z", insts.CondHI, emu.Flags{C: true, Z: true}, false),
		Entry("LS taken", insts.CondLS, emu.Flags{Z: true}, true),
		Entry("GE taken when N equals V", insts.CondGE, emu.Flags{N: true, V: true}, true),
		Entry("LT taken when N differs from V", insts.CondLT, emu.Flags{N: true}, true),
		Entry("GT not taken on Z", insts.CondGT, emu.Flags{Z: true}, false),
		Entry("LE taken on Z", insts.CondLE, emu.Flags{Z: true}, true),
	)
})
