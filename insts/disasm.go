package insts

import (
	"fmt"
	"strings"
)

// RegName returns the UAL name of a register number.
func RegName(r uint8) string {
	switch r {
	case RegSP:
		return "sp"
	case RegLR:
		return "lr"
	case RegPC:
		return "pc"
	default:
		return fmt.Sprintf("r%d", r)
	}
}

// Special register selectors of MRS and MSR.
const (
	SYSmAPSR    uint8 = 0
	SYSmIAPSR   uint8 = 1
	SYSmEAPSR   uint8 = 2
	SYSmXPSR    uint8 = 3
	SYSmIPSR    uint8 = 5
	SYSmEPSR    uint8 = 6
	SYSmIEPSR   uint8 = 7
	SYSmMSP     uint8 = 8
	SYSmPSP     uint8 = 9
	SYSmPRIMASK uint8 = 16
	SYSmCONTROL uint8 = 20
)

var sysmNames = map[uint8]string{
	SYSmAPSR:    "apsr",
	SYSmIAPSR:   "iapsr",
	SYSmEAPSR:   "eapsr",
	SYSmXPSR:    "xpsr",
	SYSmIPSR:    "ipsr",
	SYSmEPSR:    "epsr",
	SYSmIEPSR:   "iepsr",
	SYSmMSP:     "msp",
	SYSmPSP:     "psp",
	SYSmPRIMASK: "primask",
	SYSmCONTROL: "control",
}

// SYSmName returns the name of a special register selector.
func SYSmName(sysm uint8) string {
	if name, ok := sysmNames[sysm]; ok {
		return name
	}
	return fmt.Sprintf("sysm%d", sysm)
}

// String renders the instruction in UAL syntax.
func (i Instruction) String() string {
	mn := i.Op.String()
	if i.SetsFlags() && i.Op.Info().Class == ClassData {
		mn += "s"
	}
	r := RegName

	switch i.Op {
	case OpNOP, OpYIELD, OpWFE, OpWFI, OpSEV:
		return mn

	case OpBKPT, OpSVC, OpUDF:
		return fmt.Sprintf("%s #%d", mn, i.Imm)

	case OpDMB, OpDSB, OpISB:
		if i.Option == 0xF {
			return mn + " sy"
		}
		return fmt.Sprintf("%s #%d", mn, i.Option)

	case OpCPS:
		if i.Extra {
			return "cpsid i"
		}
		return "cpsie i"

	case OpMRS:
		return fmt.Sprintf("mrs %s, %s", r(i.Rd), SYSmName(i.SYSm))
	case OpMSR:
		return fmt.Sprintf("msr %s, %s", SYSmName(i.SYSm), r(i.Rn))

	case OpB:
		if i.Form == FormT1 {
			return fmt.Sprintf("b%s #%d", i.Cond, i.BranchOffset())
		}
		return fmt.Sprintf("b #%d", i.BranchOffset())
	case OpBL:
		return fmt.Sprintf("bl #%d", i.BranchOffset())
	case OpBX, OpBLX:
		return fmt.Sprintf("%s %s", mn, r(i.Rm))

	case OpPUSH, OpPOP:
		return fmt.Sprintf("%s %s", mn, regList(i.ListedRegisters()))
	case OpLDM, OpSTM:
		wb := "!"
		if i.Op == OpLDM && i.RegisterList&(1<<i.Rn) != 0 {
			wb = ""
		}
		return fmt.Sprintf("%s %s%s, %s", mn, r(i.Rn), wb, regList(i.ListedRegisters()))

	case OpLDR, OpLDRB, OpLDRH, OpLDRSB, OpLDRSH, OpSTR, OpSTRB, OpSTRH:
		return fmt.Sprintf("%s %s, %s", mn, r(i.Rt), i.address())

	case OpADR:
		return fmt.Sprintf("adr %s, #%d", r(i.Rd), i.Imm<<2)

	case OpREV, OpREV16, OpREVSH, OpSXTB, OpSXTH, OpUXTB, OpUXTH, OpMVN:
		return fmt.Sprintf("%s %s, %s", mn, r(i.Rd), r(i.Rm))

	case OpCMP, OpCMN, OpTST:
		if i.Form == FormImmediateT1 {
			return fmt.Sprintf("%s %s, #%d", mn, r(i.Rn), i.Imm)
		}
		return fmt.Sprintf("%s %s, %s", mn, r(i.Rn), r(i.Rm))

	case OpRSB:
		return fmt.Sprintf("%s %s, %s, #0", mn, r(i.Rd), r(i.Rn))
	case OpMUL:
		return fmt.Sprintf("%s %s, %s, %s", mn, r(i.Rd), r(i.Rn), r(i.Rd))
	}

	return i.dataString(mn)
}

// dataString renders the remaining data-processing forms.
func (i Instruction) dataString(mn string) string {
	r := RegName
	switch i.Form {
	case FormImmediateT1:
		switch i.Op {
		case OpMOV:
			return fmt.Sprintf("%s %s, #%d", mn, r(i.Rd), i.Imm)
		case OpLSL, OpLSR, OpASR:
			return fmt.Sprintf("%s %s, %s, #%d", mn, r(i.Rd), r(i.Rm), shiftAmount(i.Op, i.Imm))
		}
		return fmt.Sprintf("%s %s, %s, #%d", mn, r(i.Rd), r(i.Rn), i.Imm)
	case FormImmediateT2:
		return fmt.Sprintf("%s %s, #%d", mn, r(i.Rd), i.Imm)
	case FormRegisterT1:
		switch i.Op {
		case OpADD, OpSUB:
			return fmt.Sprintf("%s %s, %s, %s", mn, r(i.Rd), r(i.Rn), r(i.Rm))
		}
		return fmt.Sprintf("%s %s, %s", mn, r(i.Rd), r(i.Rm))
	case FormRegisterT2:
		return fmt.Sprintf("%s %s, %s", mn, r(i.Rd), r(i.Rm))
	case FormSPPlusImmediateT1:
		return fmt.Sprintf("%s %s, sp, #%d", mn, r(i.Rd), i.Imm<<2)
	case FormSPPlusImmediateT2, FormSPMinusImmediateT1:
		return fmt.Sprintf("%s sp, #%d", mn, i.Imm<<2)
	case FormSPPlusRegisterT1:
		return fmt.Sprintf("%s %s, sp, %s", mn, r(i.Rd), r(i.Rd))
	case FormSPPlusRegisterT2:
		return fmt.Sprintf("%s sp, %s", mn, r(i.Rm))
	}
	return fmt.Sprintf("%s <%#x>", mn, i.Raw)
}

// address renders the addressing mode of a load or store.
func (i Instruction) address() string {
	r := RegName
	switch i.Form {
	case FormImmediateT1:
		return fmt.Sprintf("[%s, #%d]", r(i.Rn), i.Imm*uint32(TransferSize(i.Op)))
	case FormImmediateT2:
		return fmt.Sprintf("[sp, #%d]", i.Imm<<2)
	case FormLiteralT1:
		return fmt.Sprintf("[pc, #%d]", i.Imm<<2)
	}
	return fmt.Sprintf("[%s, %s]", r(i.Rn), r(i.Rm))
}

func regList(regs []uint8) string {
	names := make([]string, len(regs))
	for k, reg := range regs {
		names[k] = RegName(reg)
	}
	return "{" + strings.Join(names, ", ") + "}"
}
