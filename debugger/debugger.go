// Package debugger implements an interactive single-key stepper over an
// emulator. Every step can be undone, so stepping backwards is as cheap as
// stepping forwards.
package debugger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"unicode"

	"github.com/sarchlab/m0sim/emu"
	"github.com/sarchlab/m0sim/insts"
)

// Debugger commands.
const (
	CmdStep      = 's'
	CmdBack      = 'b'
	CmdRun       = 'r'
	CmdRegisters = 'p'
	CmdHistory   = 'l'
	CmdHelp      = 'h'
	CmdQuit      = 'q'
)

const helpText = `s  step one instruction
b  roll back the last instruction
r  run until halt
p  print registers
l  list the last mutations
h  help
q  quit
`

// Debugger drives an emulator from single-key commands.
type Debugger struct {
	emu *emu.Emulator
	out io.Writer

	// RunBudget bounds the r command. 0 uses the emulator's budget.
	RunBudget uint64

	// HistoryLen is how many mutations the l command lists.
	HistoryLen int
}

// New creates a debugger that writes to out.
func New(e *emu.Emulator, out io.Writer) *Debugger {
	return &Debugger{
		emu:        e,
		out:        out,
		HistoryLen: 8,
	}
}

// Loop reads commands from in until q or end of input. Whitespace is ignored.
func (d *Debugger) Loop(in io.Reader) error {
	r := bufio.NewReader(in)
	d.printf("%s", helpText)
	d.where()

	for {
		c, _, err := r.ReadRune()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if unicode.IsSpace(c) {
			continue
		}

		if quit := d.Execute(c); quit {
			return nil
		}
	}
}

// Execute runs one command and reports whether the debugger should exit.
func (d *Debugger) Execute(cmd rune) bool {
	switch cmd {
	case CmdStep:
		d.step()
	case CmdBack:
		d.back()
	case CmdRun:
		d.run()
	case CmdRegisters:
		d.registers()
	case CmdHistory:
		d.history()
	case CmdHelp:
		d.printf("%s", helpText)
	case CmdQuit:
		return true
	default:
		d.printf("unknown command %q, h for help\n", cmd)
	}
	return false
}

func (d *Debugger) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(d.out, format, args...)
}

func (d *Debugger) where() {
	pc := d.emu.Registers().Read(emu.PC)
	d.printf("pc=0x%08X history=%d status=%s\n", pc, d.emu.HistoryLen(), d.emu.Status())
}

func (d *Debugger) step() {
	res := d.emu.Step()
	if res.Mutation != nil {
		d.printf("[%d] %s\n", d.emu.HistoryLen()-1, res.Mutation)
	}
	switch {
	case errors.Is(res.Err, emu.ErrHalted):
		d.printf("halted (%s), b to roll back\n", res.Reason)
		return
	case res.Err != nil:
		d.printf("error: %v\n", res.Err)
	case res.Halted:
		d.printHalt(res.Reason, res.ExitCode)
	}
	d.where()
}

func (d *Debugger) back() {
	n := d.emu.HistoryLen()
	err := d.emu.RollbackLastMutation()
	if errors.Is(err, emu.ErrRollbackOnEmptyHistory) {
		d.printf("history is empty\n")
		return
	}
	if err != nil {
		d.printf("error: %v\n", err)
		return
	}
	d.printf("rolled back [%d]\n", n-1)
	d.where()
}

func (d *Debugger) run() {
	res := d.emu.Run(d.RunBudget)
	d.printf("ran %d steps, stopped by %s\n", res.Steps, res.Stop)
	switch {
	case errors.Is(res.Err, emu.ErrHalted):
	case res.Err != nil:
		d.printf("error: %v\n", res.Err)
	case res.Stop == emu.StopHalted:
		d.printHalt(res.Reason, res.ExitCode)
	}
	d.where()
}

func (d *Debugger) printHalt(reason emu.HaltReason, exit int64) {
	if reason == emu.HaltSupervisorCall {
		d.printf("halted (%s), exit code %d\n", reason, exit)
		return
	}
	d.printf("halted (%s)\n", reason)
}

func (d *Debugger) registers() {
	regs := d.emu.Registers()
	for i := 0; i < 16; i++ {
		reg := emu.Register(i)
		d.printf("%-4s 0x%08X", insts.RegName(uint8(i)), regs.Read(reg))
		if i%4 == 3 {
			d.printf("\n")
		} else {
			d.printf("  ")
		}
	}
	f := regs.Flags()
	d.printf("xpsr 0x%08X  N=%d Z=%d C=%d V=%d\n",
		regs.XPSR(), b2i(f.N), b2i(f.Z), b2i(f.C), b2i(f.V))
}

func (d *Debugger) history() {
	hist := d.emu.History()
	start := len(hist) - d.HistoryLen
	if start < 0 {
		start = 0
	}
	for i := start; i < len(hist); i++ {
		d.printf("[%d] %s\n", i, hist[i])
	}
	if len(hist) == 0 {
		d.printf("history is empty\n")
	}
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
