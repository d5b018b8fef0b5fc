package emu

import (
	"fmt"

	"github.com/sarchlab/rvemu/insts"
)

type execFunc func(e *Emulator, inst *insts.Instruction)

// newExecTable builds the routine for every Op. It panics if an Op has no
// routine.
func newExecTable() map[insts.Op]execFunc {
	t := map[insts.Op]execFunc{
		insts.OpInvalid: execInvalid,

		insts.OpLUI:   execLUI,
		insts.OpAUIPC: execAUIPC,
		insts.OpJAL:   execJAL,
		insts.OpJALR:  execJALR,

		insts.OpBEQ:  branch(RelopEQ),
		insts.OpBNE:  branch(RelopNE),
		insts.OpBLT:  branch(RelopLT),
		insts.OpBGE:  branch(RelopGE),
		insts.OpBLTU: branch(RelopLTU),
		insts.OpBGEU: branch(RelopGEU),

		insts.OpLB:  load(1, true),
		insts.OpLH:  load(2, true),
		insts.OpLW:  load(4, false),
		insts.OpLBU: load(1, false),
		insts.OpLHU: load(2, false),

		insts.OpSB: store(1),
		insts.OpSH: store(2),
		insts.OpSW: store(4),

		insts.OpADDI:  immOp((*RTL).Addi),
		insts.OpSLTI:  setImm(RelopLT),
		insts.OpSLTIU: setImm(RelopLTU),
		insts.OpXORI:  immOp((*RTL).Xori),
		insts.OpORI:   immOp((*RTL).Ori),
		insts.OpANDI:  immOp((*RTL).Andi),
		insts.OpSLLI:  immOp((*RTL).Slli),
		insts.OpSRLI:  immOp((*RTL).Srli),
		insts.OpSRAI:  immOp((*RTL).Srai),

		insts.OpADD:  regOp((*RTL).Add),
		insts.OpSUB:  regOp((*RTL).Sub),
		insts.OpSLL:  regOp((*RTL).Sll),
		insts.OpSLT:  setReg(RelopLT),
		insts.OpSLTU: setReg(RelopLTU),
		insts.OpXOR:  regOp((*RTL).Xor),
		insts.OpSRL:  regOp((*RTL).Srl),
		insts.OpSRA:  regOp((*RTL).Sra),
		insts.OpOR:   regOp((*RTL).Or),
		insts.OpAND:  regOp((*RTL).And),

		insts.OpMUL:    regOp((*RTL).Mul),
		insts.OpMULH:   regOp((*RTL).MulhS),
		insts.OpMULHSU: regOp((*RTL).MulhSU),
		insts.OpMULHU:  regOp((*RTL).MulhU),
		insts.OpDIV:    regOp((*RTL).Div),
		insts.OpDIVU:   regOp((*RTL).DivU),
		insts.OpREM:    regOp((*RTL).Rem),
		insts.OpREMU:   regOp((*RTL).RemU),

		insts.OpFENCE: func(*Emulator, *insts.Instruction) {},

		insts.OpECALL:  execECALL,
		insts.OpEBREAK: execEBREAK,
		insts.OpMRET:   execMRET,

		insts.OpCSRRW:  csrOp(csrWrite, false),
		insts.OpCSRRS:  csrOp(csrSet, false),
		insts.OpCSRRC:  csrOp(csrClear, false),
		insts.OpCSRRWI: csrOp(csrWrite, true),
		insts.OpCSRRSI: csrOp(csrSet, true),
		insts.OpCSRRCI: csrOp(csrClear, true),
	}

	for _, op := range insts.AllOps() {
		if _, ok := t[op]; !ok {
			panic(fmt.Sprintf("emu: no routine for %s", op))
		}
	}

	return t
}

func execInvalid(e *Emulator, inst *insts.Instruction) {
	e.invalidInst(inst)
}

func execLUI(e *Emulator, inst *insts.Instruction) {
	e.rtl.Li(e.rtl.Reg(inst.Rd), inst.Imm)
}

func execAUIPC(e *Emulator, inst *insts.Instruction) {
	e.rtl.Li(e.rtl.Reg(inst.Rd), e.rtl.PC()+inst.Imm)
}

func execJAL(e *Emulator, inst *insts.Instruction) {
	r := e.rtl
	target := r.PC() + inst.Imm
	r.Li(r.Reg(inst.Rd), r.PC()+4)
	r.J(target)
}

func execJALR(e *Emulator, inst *insts.Instruction) {
	r := e.rtl
	r.Addi(&r.S0, r.Reg(inst.Rs1), inst.Imm)
	r.Andi(&r.S0, &r.S0, ^uint32(1))
	r.Li(r.Reg(inst.Rd), r.PC()+4)
	r.Jr(&r.S0)
}

func branch(relop Relop) execFunc {
	return func(e *Emulator, inst *insts.Instruction) {
		r := e.rtl
		r.Jrelop(relop, r.Reg(inst.Rs1), r.Reg(inst.Rs2), r.PC()+inst.Imm)
	}
}

func load(width int, signed bool) execFunc {
	return func(e *Emulator, inst *insts.Instruction) {
		r := e.rtl
		r.Lm(&r.S0, r.Reg(inst.Rs1), inst.Imm, width)
		if signed {
			r.Sext(r.Reg(inst.Rd), &r.S0, width)
			return
		}
		r.Mv(r.Reg(inst.Rd), &r.S0)
	}
}

func store(width int) execFunc {
	return func(e *Emulator, inst *insts.Instruction) {
		r := e.rtl
		r.Sm(r.Reg(inst.Rs2), r.Reg(inst.Rs1), inst.Imm, width)
	}
}

func immOp(f func(r *RTL, dest, a *uint32, imm uint32)) execFunc {
	return func(e *Emulator, inst *insts.Instruction) {
		r := e.rtl
		f(r, r.Reg(inst.Rd), r.Reg(inst.Rs1), inst.Imm)
	}
}

func regOp(f func(r *RTL, dest, a, b *uint32)) execFunc {
	return func(e *Emulator, inst *insts.Instruction) {
		r := e.rtl
		f(r, r.Reg(inst.Rd), r.Reg(inst.Rs1), r.Reg(inst.Rs2))
	}
}

func setImm(relop Relop) execFunc {
	return func(e *Emulator, inst *insts.Instruction) {
		r := e.rtl
		r.Li(&r.S1, inst.Imm)
		r.SetRelop(relop, r.Reg(inst.Rd), r.Reg(inst.Rs1), &r.S1)
	}
}

func setReg(relop Relop) execFunc {
	return func(e *Emulator, inst *insts.Instruction) {
		r := e.rtl
		r.SetRelop(relop, r.Reg(inst.Rd), r.Reg(inst.Rs1), r.Reg(inst.Rs2))
	}
}

func execECALL(e *Emulator, _ *insts.Instruction) {
	e.ecall()
}

func execEBREAK(e *Emulator, _ *insts.Instruction) {
	e.ebreak()
}

func execMRET(e *Emulator, _ *insts.Instruction) {
	e.mret()
}

type csrKind uint8

const (
	csrWrite csrKind = iota
	csrSet
	csrClear
)

// csrOp builds a Zicsr routine. For the immediate forms the rs1 field is
// the 5-bit unsigned source.
func csrOp(kind csrKind, imm bool) execFunc {
	return func(e *Emulator, inst *insts.Instruction) {
		r := e.rtl
		csr := e.regFile.CSR.Ptr(inst.CSR)
		writable := CSRWritable(inst.CSR)

		if imm {
			r.Li(&r.S1, uint32(inst.Rs1))
		} else {
			r.Mv(&r.S1, r.Reg(inst.Rs1))
		}

		switch kind {
		case csrWrite:
			if inst.Rd != 0 {
				r.Mv(&r.S0, csr)
			}
			if writable {
				r.Mv(csr, &r.S1)
			}
			if inst.Rd != 0 {
				r.Mv(r.Reg(inst.Rd), &r.S0)
			}
		case csrSet, csrClear:
			r.Mv(&r.S0, csr)
			if writable && inst.Rs1 != 0 {
				if kind == csrSet {
					r.Or(csr, &r.S0, &r.S1)
				} else {
					r.Not(&r.S1, &r.S1)
					r.And(csr, &r.S0, &r.S1)
				}
			}
			r.Mv(r.Reg(inst.Rd), &r.S0)
		}
	}
}
