package emu_test

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/m0sim/cache"
	"github.com/sarchlab/m0sim/config"
	"github.com/sarchlab/m0sim/emu"
	"github.com/sarchlab/m0sim/insts"
)

var _ = Describe("Emulator", func() {
	var e *emu.Emulator

	BeforeEach(func() {
		e = emu.NewEmulator(
			emu.WithMemoryCapacity(1<<20),
			emu.WithStackPointer(0x8000),
		)
	})

	load := func(regs map[emu.Register]uint32, halfwords ...uint16) {
		ExpectWithOffset(1, e.Load(emu.Image{
			Entry: 0x1000,
			Segments: []emu.Segment{
				{Addr: 0x1000, Data: thumb(halfwords...), Executable: true},
			},
			Registers: regs,
		})).To(Succeed())
	}

	Describe("Load", func() {
		It("should start in the Loaded state at the entry point", func() {
			load(nil, 0xBF00)

			Expect(e.Status()).To(Equal(emu.StatusLoaded))
			Expect(e.HistoryLen()).To(BeZero())
			Expect(e.Registers().Read(emu.PC)).To(Equal(uint32(0x1000)))
			Expect(e.Registers().Read(emu.SP)).To(Equal(uint32(0x8000)))
		})

		It("should clear the Thumb bit of the entry point", func() {
			Expect(e.Load(emu.Image{
				Entry:     0x2001,
				InitialSP: 0x4000,
				Segments:  []emu.Segment{{Addr: 0x2000, Data: thumb(0xBF00)}},
			})).To(Succeed())

			Expect(e.Registers().Read(emu.PC)).To(Equal(uint32(0x2000)))
			Expect(e.Registers().Read(emu.SP)).To(Equal(uint32(0x4000)))
		})

		It("should reject a segment beyond the capacity", func() {
			err := e.Load(emu.Image{
				Segments: []emu.Segment{{Addr: 0xFFFFF, Data: []byte{1, 2}}},
			})

			Expect(err).To(MatchError(emu.ErrOutOfBoundsAccess))
		})

		It("should discard history on reload", func() {
			load(nil, 0xBF00, 0xBF00)
			e.Step()

			load(nil, 0xBF00)

			Expect(e.HistoryLen()).To(BeZero())
			Expect(e.Status()).To(Equal(emu.StatusLoaded))
		})
	})

	Describe("Step", func() {
		It("should advance PC by the bytes consumed", func() {
			load(nil, 0x2005, 0xF000, 0xF800, 0xBF00)

			res := e.Step()
			Expect(res.Err).ToNot(HaveOccurred())
			Expect(res.Mutation).ToNot(BeNil())
			Expect(e.Registers().Read(emu.PC)).To(Equal(uint32(0x1002)))
			Expect(e.Status()).To(Equal(emu.StatusRunning))

			e.Step() // bl #0
			Expect(e.Registers().Read(emu.PC)).To(Equal(uint32(0x1006)))
		})

		It("should set PC to the branch target", func() {
			load(nil, 0xE7FE) // b .

			res := e.Step()

			Expect(res.Mutation.Branches()).To(BeTrue())
			Expect(e.Registers().Read(emu.PC)).To(Equal(uint32(0x1000)))
		})

		It("should halt on a breakpoint after recording it", func() {
			load(nil, 0xBE01)

			res := e.Step()

			Expect(res.Err).ToNot(HaveOccurred())
			Expect(res.Halted).To(BeTrue())
			Expect(res.Reason).To(Equal(emu.HaltBreakpoint))
			Expect(e.HistoryLen()).To(Equal(1))
			Expect(e.Status()).To(Equal(emu.StatusHalted))
			Expect(e.HaltReason()).To(Equal(emu.HaltBreakpoint))
		})

		It("should refuse to step when halted", func() {
			load(nil, 0xBE01)
			e.Step()

			res := e.Step()

			Expect(res.Err).To(MatchError(emu.ErrHalted))
			Expect(e.HistoryLen()).To(Equal(1))
		})

		It("should report the exit code of a supervisor call", func() {
			load(map[emu.Register]uint32{emu.R0: 3}, 0xDF00)

			res := e.Step()

			Expect(res.Reason).To(Equal(emu.HaltSupervisorCall))
			Expect(res.ExitCode).To(Equal(int64(3)))
		})

		It("should halt without error when the code runs out", func() {
			load(nil, 0xBF00)
			e.Step()

			res := e.Step()

			Expect(res.Err).ToNot(HaveOccurred())
			Expect(res.Mutation).To(BeNil())
			Expect(res.Reason).To(Equal(emu.HaltInputExhausted))
			Expect(e.HistoryLen()).To(Equal(1))
		})

		It("should fail on undefined bytes without recording anything", func() {
			load(nil, 0xFFFF)

			res := e.Step()

			Expect(res.Err).To(MatchError(insts.ErrUndefinedInstruction))
			Expect(res.Reason).To(Equal(emu.HaltUndefinedInstruction))
			Expect(e.HistoryLen()).To(BeZero())
		})

		It("should fail on a trailing odd byte", func() {
			Expect(e.LoadBytes(0x1000, []byte{0x20, 0x05, 0x20})).To(Succeed())
			e.Step()

			res := e.Step()

			Expect(res.Err).To(MatchError(insts.ErrInsufficientInput))
			Expect(res.Reason).To(Equal(emu.HaltDecodeFailure))
			Expect(e.HistoryLen()).To(Equal(1))
		})

		It("should fail on UDF", func() {
			load(nil, 0xDE00)

			res := e.Step()

			Expect(res.Err).To(MatchError(insts.ErrUndefinedInstruction))
			Expect(e.HistoryLen()).To(BeZero())
		})

		It("should fail on a memory fault and keep the state", func() {
			load(map[emu.Register]uint32{emu.R1: 0x2002}, 0x6008) // str r0, [r1]
			before := e.State()

			res := e.Step()

			Expect(res.Err).To(MatchError(emu.ErrUnalignedAccess))
			Expect(res.Reason).To(Equal(emu.HaltFault))
			Expect(e.State().Equal(before)).To(BeTrue())
		})

		It("should decode little-endian halfwords when configured", func() {
			e = emu.NewEmulator(emu.WithInstructionByteOrder(binary.LittleEndian))
			Expect(e.LoadBytes(0x1000, []byte{0x05, 0x20})).To(Succeed())

			e.Step()

			Expect(e.Registers().Read(emu.R0)).To(Equal(uint32(5)))
		})

		It("should follow the byte order the image declares", func() {
			e = emu.NewEmulator()
			Expect(e.Load(emu.Image{
				Entry:     0x1000,
				ByteOrder: binary.LittleEndian,
				Segments: []emu.Segment{
					// movs r0, #42; svc #0
					{Addr: 0x1000, Data: []byte{0x2A, 0x20, 0x00, 0xDF}, Executable: true},
				},
			})).To(Succeed())

			res := e.Run(0)

			Expect(e.InstructionByteOrder()).To(Equal(binary.LittleEndian))
			Expect(res.Reason).To(Equal(emu.HaltSupervisorCall))
			Expect(res.ExitCode).To(Equal(int64(42)))
		})

		It("should keep a fixed byte order over the image's", func() {
			e = emu.NewEmulator(emu.WithInstructionByteOrder(binary.BigEndian))
			Expect(e.Load(emu.Image{
				Entry:     0x1000,
				ByteOrder: binary.LittleEndian,
				Segments: []emu.Segment{
					{Addr: 0x1000, Data: thumb(0x202A, 0xDF00), Executable: true},
				},
			})).To(Succeed())

			res := e.Run(0)

			Expect(e.InstructionByteOrder()).To(Equal(binary.BigEndian))
			Expect(res.ExitCode).To(Equal(int64(42)))
		})
	})

	Describe("Run", func() {
		It("should run until a breakpoint", func() {
			load(nil,
				0x2000, // movs r0, #0
				0x3001, // adds r0, #1
				0x280A, // cmp r0, #10
				0xD1FC, // bne #-8
				0xBE00, // bkpt
			)

			res := e.Run(0)

			Expect(res.Err).ToNot(HaveOccurred())
			Expect(res.Stop).To(Equal(emu.StopHalted))
			Expect(res.Reason).To(Equal(emu.HaltBreakpoint))
			Expect(res.Steps).To(Equal(uint64(1 + 3*10 + 1)))
			Expect(e.Registers().Read(emu.R0)).To(Equal(uint32(10)))
		})

		It("should stop at the step budget and stay running", func() {
			load(nil, 0xE7FE)

			res := e.Run(25)

			Expect(res.Stop).To(Equal(emu.StopStepBudget))
			Expect(res.Steps).To(Equal(uint64(25)))
			Expect(e.Status()).To(Equal(emu.StatusRunning))
		})

		It("should use the configured budget", func() {
			e = emu.NewEmulator(emu.WithMaxSteps(7))
			Expect(e.LoadBytes(0x1000, thumb(0xE7FE))).To(Succeed())

			Expect(e.Run(0).Steps).To(Equal(uint64(7)))
		})

		It("should honour a halt request", func() {
			load(nil, 0xE7FE)
			e.RequestHalt()

			res := e.Run(100)

			Expect(res.Stop).To(Equal(emu.StopHaltRequested))
			Expect(res.Steps).To(BeZero())

			Expect(e.Run(3).Steps).To(Equal(uint64(3)))
		})

		It("should stop on an error", func() {
			load(nil, 0xBF00, 0xFFFF)

			res := e.Run(0)

			Expect(res.Stop).To(Equal(emu.StopError))
			Expect(res.Steps).To(Equal(uint64(1)))
			Expect(res.Err).To(MatchError(insts.ErrUndefinedInstruction))
		})
	})

	Describe("RollbackLastMutation", func() {
		It("should fail on an empty history without changing state", func() {
			load(nil, 0xBF00)
			before := e.State()

			err := e.RollbackLastMutation()

			Expect(err).To(MatchError(emu.ErrRollbackOnEmptyHistory))
			Expect(e.State().Equal(before)).To(BeTrue())
			Expect(e.Status()).To(Equal(emu.StatusLoaded))
		})

		It("should restore the baseline after rolling back everything", func() {
			load(map[emu.Register]uint32{emu.R0: 1, emu.R1: 2, emu.R2: 3, emu.R3: 4},
				0xB40F, // push {r0, r1, r2, r3}
				0x2000, // movs r0, #0
				0xBC0F, // pop {r0, r1, r2, r3}
				0xBE00, // bkpt
			)
			Expect(e.Run(0).Stop).To(Equal(emu.StopHalted))

			for e.HistoryLen() > 0 {
				Expect(e.RollbackLastMutation()).To(Succeed())
			}

			Expect(e.State().Equal(e.Baseline())).To(BeTrue())
			Expect(e.Status()).To(Equal(emu.StatusLoaded))
		})

		It("should resume after rolling back the halting mutation", func() {
			load(nil, 0xBF00, 0xBE00)
			e.Run(0)

			Expect(e.RollbackLastMutation()).To(Succeed())

			Expect(e.Status()).To(Equal(emu.StatusRunning))
			Expect(e.HaltReason()).To(Equal(emu.HaltNone))
			Expect(e.Registers().Read(emu.PC)).To(Equal(uint32(0x1002)))
			Expect(e.Step().Reason).To(Equal(emu.HaltBreakpoint))
		})

		It("should leave the rolled-back mutation unapplied", func() {
			load(nil, 0xBF00)
			m := e.Step().Mutation

			Expect(e.RollbackLastMutation()).To(Succeed())

			Expect(m.Applied()).To(BeFalse())
			Expect(e.History()).To(BeEmpty())
		})

		It("should clear a halt the rolled-back mutation did not cause", func() {
			load(nil, 0xBF00, 0xDE00) // nop; udf
			Expect(e.Run(0).Reason).To(Equal(emu.HaltUndefinedInstruction))
			Expect(e.HistoryLen()).To(Equal(1))

			Expect(e.RollbackLastMutation()).To(Succeed())

			Expect(e.Status()).To(Equal(emu.StatusLoaded))
			Expect(e.HaltReason()).To(Equal(emu.HaltNone))
		})
	})

	Describe("push scenario", func() {
		It("should write R0-R3 below the original SP", func() {
			load(map[emu.Register]uint32{emu.R0: 10, emu.R1: 11, emu.R2: 12, emu.R3: 13},
				0xB40F)

			e.Step()

			Expect(e.Registers().Read(emu.SP)).To(Equal(uint32(0x8000 - 16)))
			mem := e.Memory()
			for i := uint32(0); i < 4; i++ {
				Expect(mem.Read32(0x8000 - 16 + 4*i)).To(Equal(10 + i))
			}
		})
	})

	Describe("MemoryAt", func() {
		BeforeEach(func() {
			load(map[emu.Register]uint32{emu.R1: 0x3000, emu.R2: 0xAB},
				0x600A, // str r2, [r1, #0]
				0x2005, // movs r0, #5
				0x8088, // strh r0, [r1, #4]
			)
			Expect(e.Run(3).Steps).To(Equal(uint64(3)))
		})

		It("should differ from the prior index only where the step wrote", func() {
			prev := e.Baseline().Mem
			for i := 0; i < 3; i++ {
				cur, err := e.MemoryAt(i)
				Expect(err).ToNot(HaveOccurred())

				var touched []uint32
				for _, c := range e.History()[i].MemoryChanges() {
					for j := range c.New {
						if c.New[j] != c.Old[j] {
							touched = append(touched, c.Addr+uint32(j))
						}
					}
				}
				if touched == nil {
					Expect(prev.Diff(cur)).To(BeEmpty())
				} else {
					Expect(prev.Diff(cur)).To(Equal(touched))
				}
				prev = cur
			}
		})

		It("should match the live memory at the last index", func() {
			last, err := e.MemoryAt(2)

			Expect(err).ToNot(HaveOccurred())
			Expect(last.Equal(e.Memory())).To(BeTrue())
		})

		It("should reject indices outside the history", func() {
			_, err := e.MemoryAt(3)
			Expect(err).To(MatchError(emu.ErrHistoryIndex))

			_, err = e.MemoryAt(-1)
			Expect(err).To(MatchError(emu.ErrHistoryIndex))
		})
	})

	Describe("replay consistency", func() {
		It("should match the live state after every step across rollbacks", func() {
			e = emu.NewEmulator(
				emu.WithStackPointer(0x8000),
				emu.WithCheckpointInterval(4),
			)
			Expect(e.Load(emu.Image{
				Entry: 0x1000,
				Segments: []emu.Segment{{
					Addr: 0x1000,
					Data: thumb(
						0x2100, // movs r1, #0
						0x2203, // movs r2, #3
						0xB406, // push {r1, r2}
						0x3101, // adds r1, #1
						0xBC06, // pop {r1, r2}
						0x3101, // adds r1, #1
						0x2910, // cmp r1, #16
						0xD1F9, // bne #-14
						0xBE00, // bkpt
					),
					Executable: true,
				}},
			})).To(Succeed())

			for i := 0; i < 40; i++ {
				res := e.Step()
				Expect(res.Err).ToNot(HaveOccurred())

				st, err := e.StateAt(e.HistoryLen() - 1)
				Expect(err).ToNot(HaveOccurred())
				Expect(st.Equal(e.State())).To(BeTrue(), "step %d", i)
			}
			Expect(e.Checkpoints()).To(BeNumerically(">", 0))

			for i := 0; i < 13; i++ {
				Expect(e.RollbackLastMutation()).To(Succeed())
			}
			st, err := e.StateAt(e.HistoryLen() - 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(st.Equal(e.State())).To(BeTrue())

			e.Run(5)
			st, err = e.StateAt(e.HistoryLen() - 1)
			Expect(err).ToNot(HaveOccurred())
			Expect(st.Equal(e.State())).To(BeTrue())
		})

		It("should replay without checkpoints", func() {
			e = emu.NewEmulator(emu.WithCheckpointInterval(0))
			Expect(e.LoadBytes(0x1000, thumb(0x3001, 0x3001, 0x3001))).To(Succeed())
			e.Run(0)

			st, err := e.StateAt(1)

			Expect(err).ToNot(HaveOccurred())
			Expect(st.Regs.Read(emu.R0)).To(Equal(uint32(2)))
			Expect(e.Checkpoints()).To(BeZero())
		})
	})

	Describe("decode cache", func() {
		It("should hit on a loop", func() {
			load(nil, 0xE7FE)

			e.Run(10)

			stats := e.DecodeCacheStats()
			Expect(stats.Misses).To(Equal(uint64(1)))
			Expect(stats.Hits).To(Equal(uint64(9)))
		})

		It("should notice code rewritten by a store", func() {
			// The store replaces the NOP at 0x1000 with SVC #0.
			load(map[emu.Register]uint32{emu.R0: 0x00DF, emu.R1: 0x1000},
				0xBF00, // nop
				0x8008, // strh r0, [r1, #0]
				0xE7FC, // b #-8
			)

			res := e.Run(0)

			Expect(res.Reason).To(Equal(emu.HaltSupervisorCall))
			Expect(res.Steps).To(Equal(uint64(4)))
			Expect(e.DecodeCacheStats().Stale).To(Equal(uint64(1)))
		})

		It("should run the same without a cache", func() {
			e = emu.NewEmulator(emu.WithoutDecodeCache())
			Expect(e.LoadBytes(0x1000, thumb(0xE7FE))).To(Succeed())

			e.Run(4)

			Expect(e.DecodeCacheStats()).To(Equal(cache.Statistics{}))
			Expect(e.HistoryLen()).To(Equal(4))
		})

		It("should fall back to the default geometry for an invalid one", func() {
			e = emu.NewEmulator(emu.WithDecodeCache(cache.Config{Size: 256, BlockSize: 64}))
			Expect(e.LoadBytes(0x1000, thumb(0xE7FE))).To(Succeed())

			e.Run(10)

			Expect(e.DecodeCacheStats().Hits).To(Equal(uint64(9)))
		})
	})

	Describe("hooks", func() {
		It("should report steps, rollbacks and halts", func() {
			counter := &emu.StepCounter{}
			e.AcceptHook(counter)
			load(nil, 0xBF00, 0xBF00, 0xBE00)

			e.Run(0)
			Expect(e.RollbackLastMutation()).To(Succeed())

			Expect(counter.Steps).To(Equal(3))
			Expect(counter.Rollbacks).To(Equal(1))
			Expect(counter.Halts).To(Equal(1))
		})
	})
})

var _ = Describe("Emulator with config", func() {
	It("should apply the config settings", func() {
		c := config.DefaultConfig()
		c.MemoryCapacity = 1 << 16
		c.InitialSP = 0x8000
		c.MaxSteps = 3
		c.InstructionByteOrder = config.ByteOrderLittle
		c.DecodeCache = false

		e := emu.NewEmulator(emu.WithConfig(c))
		Expect(e.LoadBytes(0x100, []byte{0xFE, 0xE7})).To(Succeed()) // b .

		res := e.Run(0)

		Expect(res.Steps).To(Equal(uint64(3)))
		Expect(e.Registers().Read(emu.SP)).To(Equal(uint32(0x8000)))
		Expect(e.Memory().Capacity()).To(Equal(uint64(1 << 16)))
		Expect(e.DecodeCacheStats().Lookups).To(BeZero())
	})

	It("should follow the image byte order under the default config", func() {
		e := emu.NewEmulator(emu.WithConfig(config.DefaultConfig()))
		Expect(e.Load(emu.Image{
			Entry:     0x1000,
			ByteOrder: binary.LittleEndian,
			Segments: []emu.Segment{
				{Addr: 0x1000, Data: []byte{0x2A, 0x20, 0x00, 0xDF}, Executable: true},
			},
		})).To(Succeed())

		res := e.Run(0)

		Expect(res.Reason).To(Equal(emu.HaltSupervisorCall))
		Expect(res.ExitCode).To(Equal(int64(42)))
	})
})
