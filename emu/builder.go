// Package emu provides functional ARMv6-M emulation with reversible execution.
package emu

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/m0sim/insts"
)

// builder inspects an instruction against the current state and collects
// the locations it would change. It reads state but never writes it.
type builder struct {
	s      *State
	inst   insts.Instruction
	addr   uint32
	alu    ALU
	regs   []RegisterChange
	mem    []MemoryChange
	branch bool
}

// BuildMutation builds the mutation of inst executed at the current PC of
// s. Memory faults surface here; s is left unchanged.
func BuildMutation(s *State, inst insts.Instruction) (Mutation, error) {
	b := &builder{
		s:    s,
		inst: inst,
		addr: s.Regs.Read(PC),
	}

	switch inst.Op.Info().Class {
	case insts.ClassData:
		return b.buildData()
	case insts.ClassCompare:
		return b.buildCompare()
	case insts.ClassLoad:
		return b.buildLoad()
	case insts.ClassStore:
		return b.buildStore()
	case insts.ClassBranch:
		return b.buildBranch()
	case insts.ClassSystem:
		return b.buildSystem()
	case insts.ClassHint:
		return b.buildHint()
	case insts.ClassTrap:
		return b.buildTrap()
	}
	return nil, b.notImplemented()
}

func (b *builder) notImplemented() error {
	return fmt.Errorf("%s at 0x%08X: %w", b.inst.Op, b.addr, ErrNotImplemented)
}

// operand reads an instruction register number; PC reads as the
// instruction address plus 4.
func (b *builder) operand(n uint8) uint32 {
	if n == insts.RegPC {
		return b.addr + 4
	}
	return b.s.Regs.ReadIndex(n)
}

// setReg records a register write. SP is resolved to its active bank.
func (b *builder) setReg(reg Register, value uint32) {
	reg = b.s.Regs.Resolve(reg)
	for i := range b.regs {
		if b.regs[i].Reg == reg {
			b.regs[i].New = value
			return
		}
	}
	b.regs = append(b.regs, RegisterChange{Reg: reg, Old: b.s.Regs.Read(reg), New: value})
}

// setIndex records a write to an instruction register number. Writing PC
// branches to the value with bit 0 cleared.
func (b *builder) setIndex(n uint8, value uint32) {
	if n == insts.RegPC {
		b.branchTo(value &^ 1)
		return
	}
	b.setReg(IndexRegister(n), value)
}

func (b *builder) setFlags(f Flags) {
	b.setReg(APSR, f.bits())
}

func (b *builder) branchTo(target uint32) {
	b.branch = true
	b.setReg(PC, target)
}

// store records a little-endian write of size bytes.
func (b *builder) store(addr uint32, size int, value uint32) error {
	old, err := b.s.Mem.read(addr, size)
	if err != nil {
		return err
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	b.mem = append(b.mem, MemoryChange{Addr: addr, Old: old, New: buf[:size]})
	return nil
}

// load reads size bytes, zero-extended.
func (b *builder) load(addr uint32, size int) (uint32, error) {
	switch size {
	case 1:
		v, err := b.s.Mem.Read8(addr)
		return uint32(v), err
	case 2:
		v, err := b.s.Mem.Read16(addr)
		return uint32(v), err
	default:
		return b.s.Mem.Read32(addr)
	}
}

// finish appends the PC transition and seals the effect.
func (b *builder) finish() effect {
	if !b.branch {
		b.setReg(PC, b.addr+uint32(b.inst.Size()))
	}

	// Keep PC last so RegisterChanges reads in execution order.
	for i, c := range b.regs {
		if c.Reg == PC && i != len(b.regs)-1 {
			b.regs = append(append(b.regs[:i:i], b.regs[i+1:]...), c)
			break
		}
	}

	return effect{
		inst:   b.inst,
		addr:   b.addr,
		regs:   b.regs,
		mem:    b.mem,
		branch: b.branch,
	}
}

type aluOp func(x, y uint32, old Flags) (uint32, Flags)

func (b *builder) aluOp(op insts.Op) aluOp {
	switch op {
	case insts.OpADD:
		return b.alu.ADD
	case insts.OpADC:
		return b.alu.ADC
	case insts.OpSUB:
		return b.alu.SUB
	case insts.OpSBC:
		return b.alu.SBC
	case insts.OpRSB:
		return b.alu.RSB
	case insts.OpAND:
		return b.alu.AND
	case insts.OpEOR:
		return b.alu.EOR
	case insts.OpORR:
		return b.alu.ORR
	case insts.OpBIC:
		return b.alu.BIC
	case insts.OpMVN:
		return b.alu.MVN
	case insts.OpMUL:
		return b.alu.MUL
	case insts.OpLSL:
		return b.alu.LSL
	case insts.OpLSR:
		return b.alu.LSR
	case insts.OpASR:
		return b.alu.ASR
	case insts.OpROR:
		return b.alu.ROR
	}
	return nil
}

// buildData builds the register-writing data-processing instructions.
func (b *builder) buildData() (Mutation, error) {
	inst := b.inst
	regs := b.s.Regs
	flags := regs.Flags()

	var (
		result uint32
		f      = flags
		dest   = inst.Rd
	)

	switch inst.Op {
	case insts.OpMOV:
		switch inst.Form {
		case insts.FormImmediateT1:
			result = inst.Imm
		default:
			result = b.operand(inst.Rm)
		}
		f = logicFlags(result, flags.C, flags)

	case insts.OpADR:
		result = align4(b.addr+4) + inst.Imm<<2

	case insts.OpREV:
		result = b.alu.REV(b.operand(inst.Rm))
	case insts.OpREV16:
		result = b.alu.REV16(b.operand(inst.Rm))
	case insts.OpREVSH:
		result = b.alu.REVSH(b.operand(inst.Rm))
	case insts.OpSXTB:
		result = b.alu.SXTB(b.operand(inst.Rm))
	case insts.OpSXTH:
		result = b.alu.SXTH(b.operand(inst.Rm))
	case insts.OpUXTB:
		result = b.alu.UXTB(b.operand(inst.Rm))
	case insts.OpUXTH:
		result = b.alu.UXTH(b.operand(inst.Rm))

	default:
		op := b.aluOp(inst.Op)
		if op == nil {
			return nil, b.notImplemented()
		}
		x, y, ok := b.dataOperands()
		if !ok {
			return nil, b.notImplemented()
		}
		result, f = op(x, y, flags)
		if inst.Form == insts.FormSPPlusImmediateT2 ||
			inst.Form == insts.FormSPMinusImmediateT1 ||
			inst.Form == insts.FormSPPlusRegisterT2 {
			dest = insts.RegSP
		}
	}

	b.setIndex(dest, result)
	if inst.SetsFlags() {
		b.setFlags(f)
	}

	return &DataMutation{effect: b.finish(), Result: result}, nil
}

// dataOperands returns the two ALU inputs of an arithmetic, logic or shift
// instruction.
func (b *builder) dataOperands() (x, y uint32, ok bool) {
	inst := b.inst
	sp := b.s.Regs.Read(SP)

	switch inst.Form {
	case insts.FormImmediateT1:
		switch inst.Op {
		case insts.OpLSL, insts.OpLSR, insts.OpASR:
			return b.operand(inst.Rm), inst.ShiftAmount(), true
		case insts.OpRSB:
			return b.operand(inst.Rn), 0, true
		}
		return b.operand(inst.Rn), inst.Imm, true
	case insts.FormImmediateT2:
		return b.operand(inst.Rn), inst.Imm, true
	case insts.FormRegisterT1:
		switch inst.Op {
		case insts.OpADD, insts.OpSUB:
			return b.operand(inst.Rn), b.operand(inst.Rm), true
		case insts.OpLSL, insts.OpLSR, insts.OpASR, insts.OpROR:
			return b.operand(inst.Rd), b.operand(inst.Rm) & 0xFF, true
		}
		return b.operand(inst.Rd), b.operand(inst.Rm), true
	case insts.FormRegisterT2:
		return b.operand(inst.Rd), b.operand(inst.Rm), true
	case insts.FormT1:
		// MUL Rdm, Rn, Rdm
		return b.operand(inst.Rn), b.operand(inst.Rd), true
	case insts.FormSPPlusImmediateT1, insts.FormSPPlusImmediateT2, insts.FormSPMinusImmediateT1:
		return sp, inst.Imm << 2, true
	case insts.FormSPPlusRegisterT1:
		return sp, b.operand(inst.Rd), true
	case insts.FormSPPlusRegisterT2:
		return sp, b.operand(inst.Rm), true
	}
	return 0, 0, false
}

func align4(v uint32) uint32 {
	return v &^ 3
}

// buildCompare builds CMP, CMN and TST.
func (b *builder) buildCompare() (Mutation, error) {
	inst := b.inst
	flags := b.s.Regs.Flags()

	x := b.operand(inst.Rn)
	y := inst.Imm
	if inst.Form != insts.FormImmediateT1 {
		y = b.operand(inst.Rm)
	}

	var f Flags
	switch inst.Op {
	case insts.OpCMP:
		_, f = b.alu.SUB(x, y, flags)
	case insts.OpCMN:
		_, f = b.alu.ADD(x, y, flags)
	case insts.OpTST:
		_, f = b.alu.AND(x, y, flags)
	default:
		return nil, b.notImplemented()
	}

	b.setFlags(f)
	return &CompareMutation{effect: b.finish(), Flags: f}, nil
}

// buildSystem builds MRS, MSR and CPS. Writes that need privilege are
// ignored when unprivileged.
func (b *builder) buildSystem() (Mutation, error) {
	inst := b.inst
	regs := b.s.Regs

	switch inst.Op {
	case insts.OpMRS:
		b.setIndex(inst.Rd, b.readSpecial(inst.SYSm))
	case insts.OpMSR:
		b.writeSpecial(inst.SYSm, b.operand(inst.Rn))
	case insts.OpCPS:
		if regs.Privileged() {
			var v uint32
			if inst.Extra {
				v = 1
			}
			b.setReg(PRIMASK, v)
		}
	default:
		return nil, b.notImplemented()
	}

	return &SpecialRegisterMutation{effect: b.finish()}, nil
}

func (b *builder) readSpecial(sysm uint8) uint32 {
	regs := b.s.Regs
	var v uint32
	switch sysm {
	case insts.SYSmAPSR, insts.SYSmIAPSR, insts.SYSmEAPSR, insts.SYSmXPSR,
		insts.SYSmIPSR, insts.SYSmEPSR, insts.SYSmIEPSR:
		// EPSR reads as zero; odd selectors include IPSR.
		if sysm&1 != 0 {
			v |= regs.Read(IPSR)
		}
		if sysm < 4 {
			v |= regs.Read(APSR)
		}
	case insts.SYSmMSP:
		v = regs.Read(SPMain)
	case insts.SYSmPSP:
		v = regs.Read(SPProcess)
	case insts.SYSmPRIMASK:
		v = regs.Read(PRIMASK)
	case insts.SYSmCONTROL:
		v = regs.Read(CONTROL)
	}
	return v
}

func (b *builder) writeSpecial(sysm uint8, v uint32) {
	regs := b.s.Regs
	switch sysm {
	case insts.SYSmAPSR, insts.SYSmIAPSR, insts.SYSmEAPSR, insts.SYSmXPSR:
		b.setReg(APSR, v&flagsMask)
		return
	}

	if !regs.Privileged() {
		return
	}

	switch sysm {
	case insts.SYSmMSP:
		b.setReg(SPMain, v&^3)
	case insts.SYSmPSP:
		b.setReg(SPProcess, v&^3)
	case insts.SYSmPRIMASK:
		b.setReg(PRIMASK, v&1)
	case insts.SYSmCONTROL:
		ctrl := v & ControlNPriv
		if regs.HandlerMode() {
			// SPSEL is not writable in Handler mode.
			ctrl |= regs.Read(CONTROL) & ControlSPSel
		} else {
			ctrl |= v & ControlSPSel
		}
		b.setReg(CONTROL, ctrl)
	}
}

// buildHint builds the instructions that only advance PC.
func (b *builder) buildHint() (Mutation, error) {
	return &HintMutation{effect: b.finish()}, nil
}

// buildTrap builds BKPT and SVC. UDF raises an undefined instruction.
func (b *builder) buildTrap() (Mutation, error) {
	inst := b.inst
	m := &TrapMutation{Imm: inst.Imm}

	switch inst.Op {
	case insts.OpBKPT:
		m.Reason = HaltBreakpoint
	case insts.OpSVC:
		m.Reason = HaltSupervisorCall
	case insts.OpUDF:
		return nil, &insts.UndefinedInstructionError{Bytes: rawBytes(inst)}
	default:
		return nil, b.notImplemented()
	}

	m.effect = b.finish()
	return m, nil
}

// rawBytes renders an encoding in stream order.
func rawBytes(inst insts.Instruction) []byte {
	if inst.Width == insts.Width32 {
		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, inst.Raw)
		return out
	}
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, uint16(inst.Raw))
	return out
}
