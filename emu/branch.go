// Package emu provides functional ARMv6-M emulation with reversible execution.
package emu

import "github.com/sarchlab/m0sim/insts"

// CheckCondition evaluates a condition code against the APSR flags.
func CheckCondition(cond insts.Cond, f Flags) bool {
	switch cond {
	case insts.CondEQ:
		// Equal: Z == 1
		return f.Z
	case insts.CondNE:
		// Not Equal: Z == 0
		return !f.Z
	case insts.CondCS:
		// Carry Set / Unsigned higher or same: C == 1
		return f.C
	case insts.CondCC:
		// Carry Clear / Unsigned lower: C == 0
		return !f.C
	case insts.CondMI:
		// Minus / Negative: N == 1
		return f.N
	case insts.CondPL:
		// Plus / Positive or zero: N == 0
		return !f.N
	case insts.CondVS:
		// Overflow: V == 1
		return f.V
	case insts.CondVC:
		// No overflow: V == 0
		return !f.V
	case insts.CondHI:
		// Unsigned higher: C == 1 && Z == 0
		return f.C && !f.Z
	case insts.CondLS:
		// Unsigned lower or same: C == 0 || Z == 1
		return !f.C || f.Z
	case insts.CondGE:
		// Signed greater than or equal: N == V
		return f.N == f.V
	case insts.CondLT:
		// Signed less than: N != V
		return f.N != f.V
	case insts.CondGT:
		// Signed greater than: Z == 0 && N == V
		return !f.Z && (f.N == f.V)
	case insts.CondLE:
		// Signed less than or equal: Z == 1 || N != V
		return f.Z || (f.N != f.V)
	case insts.CondAL:
		return true
	default:
		return false
	}
}

// buildBranch builds B, BL, BX and BLX.
func (b *builder) buildBranch() (Mutation, error) {
	inst := b.inst
	m := &BranchMutation{}

	switch inst.Op {
	case insts.OpB:
		m.Target = b.addr + 4 + uint32(inst.BranchOffset())
		m.Taken = inst.Form == insts.FormT2 ||
			CheckCondition(inst.Cond, b.s.Regs.Flags())
	case insts.OpBL:
		m.Target = b.addr + 4 + uint32(inst.BranchOffset())
		m.Taken = true
		m.Link = true
		b.setReg(LR, (b.addr+4)|1)
	case insts.OpBX:
		m.Target = b.operand(inst.Rm) &^ 1
		m.Taken = true
	case insts.OpBLX:
		m.Target = b.operand(inst.Rm) &^ 1
		m.Taken = true
		m.Link = true
		b.setReg(LR, (b.addr+2)|1)
	default:
		return nil, b.notImplemented()
	}

	if m.Taken {
		b.branchTo(m.Target)
	}
	m.effect = b.finish()
	return m, nil
}
