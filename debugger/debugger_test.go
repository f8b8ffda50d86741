package debugger_test

import (
	"bytes"
	"encoding/binary"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/m0sim/debugger"
	"github.com/sarchlab/m0sim/emu"
)

func thumb(halfwords ...uint16) []byte {
	b := make([]byte, 2*len(halfwords))
	for i, hw := range halfwords {
		binary.BigEndian.PutUint16(b[2*i:], hw)
	}
	return b
}

var _ = Describe("Debugger", func() {
	var (
		e   *emu.Emulator
		out *bytes.Buffer
		d   *debugger.Debugger
	)

	BeforeEach(func() {
		e = emu.NewEmulator()
		// movs r0, #5; adds r0, #1; svc #0
		Expect(e.LoadBytes(0x1000, thumb(0x2005, 0x3001, 0xDF00))).To(Succeed())
		out = &bytes.Buffer{}
		d = debugger.New(e, out)
	})

	It("should step and roll back", func() {
		Expect(d.Execute('s')).To(BeFalse())
		Expect(e.HistoryLen()).To(Equal(1))
		Expect(out.String()).To(ContainSubstring("[0] 0x00001000: movs r0, #5"))

		Expect(d.Execute('b')).To(BeFalse())
		Expect(e.HistoryLen()).To(BeZero())
		Expect(out.String()).To(ContainSubstring("rolled back [0]"))
		Expect(e.State().Equal(e.Baseline())).To(BeTrue())
	})

	It("should report an empty history", func() {
		d.Execute('b')

		Expect(out.String()).To(ContainSubstring("history is empty"))
	})

	It("should run to the halt and show the exit code", func() {
		d.Execute('r')

		Expect(e.Status()).To(Equal(emu.StatusHalted))
		Expect(out.String()).To(ContainSubstring("ran 3 steps"))
		Expect(out.String()).To(ContainSubstring("exit code 6"))
	})

	It("should refuse to step past a halt", func() {
		d.Execute('r')
		out.Reset()

		d.Execute('s')

		Expect(out.String()).To(ContainSubstring("halted (supervisor call)"))
		Expect(e.HistoryLen()).To(Equal(3))
	})

	It("should resume after rolling back a halt", func() {
		d.Execute('r')
		d.Execute('b')

		Expect(e.Status()).To(Equal(emu.StatusRunning))
		d.Execute('s')
		Expect(e.Status()).To(Equal(emu.StatusHalted))
	})

	It("should print registers", func() {
		d.Execute('s')
		out.Reset()

		d.Execute('p')

		Expect(out.String()).To(ContainSubstring("r0   0x00000005"))
		Expect(out.String()).To(ContainSubstring("pc   0x00001002"))
		Expect(out.String()).To(ContainSubstring("Z=0"))
	})

	It("should list the newest mutations", func() {
		d.HistoryLen = 2
		d.Execute('r')
		out.Reset()

		d.Execute('l')

		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		Expect(lines).To(HaveLen(2))
		Expect(lines[0]).To(HavePrefix("[1]"))
		Expect(lines[1]).To(HavePrefix("[2]"))
	})

	It("should reject unknown commands", func() {
		Expect(d.Execute('x')).To(BeFalse())
		Expect(out.String()).To(ContainSubstring("unknown command 'x'"))
	})

	Describe("Loop", func() {
		It("should read commands until q", func() {
			err := d.Loop(strings.NewReader("s s\nb q s"))

			Expect(err).NotTo(HaveOccurred())
			Expect(e.HistoryLen()).To(Equal(1))
		})

		It("should stop at the end of input", func() {
			Expect(d.Loop(strings.NewReader("sss"))).To(Succeed())
			Expect(e.Status()).To(Equal(emu.StatusHalted))
		})
	})
})
