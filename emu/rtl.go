package emu

import (
	"fmt"

	"github.com/sarchlab/rvemu/device"
	"github.com/sarchlab/rvemu/insts"
)

// Relop is a relational operator used by SetRelop and Jrelop.
type Relop uint8

// Relational operators.
const (
	RelopFalse Relop = iota
	RelopTrue
	RelopEQ
	RelopNE
	RelopLT
	RelopLE
	RelopGT
	RelopGE
	RelopLTU
	RelopLEU
	RelopGTU
	RelopGEU
)

// Eval applies the operator to a and b.
func (r Relop) Eval(a, b uint32) bool {
	switch r {
	case RelopFalse:
		return false
	case RelopTrue:
		return true
	case RelopEQ:
		return a == b
	case RelopNE:
		return a != b
	case RelopLT:
		return int32(a) < int32(b)
	case RelopLE:
		return int32(a) <= int32(b)
	case RelopGT:
		return int32(a) > int32(b)
	case RelopGE:
		return int32(a) >= int32(b)
	case RelopLTU:
		return a < b
	case RelopLEU:
		return a <= b
	case RelopGTU:
		return a > b
	case RelopGEU:
		return a >= b
	}
	panic(fmt.Sprintf("emu: invalid relop %d", r))
}

// RTL is the register-transfer primitive layer every instruction routine
// is written in. Operands are pointers into the register file, the CSR
// file or the two scratch registers. Writes aimed at x0 are discarded.
type RTL struct {
	regs *RegFile
	bus  *device.Bus
	zero *uint32

	// S0 and S1 are scratch operands, not visible to the guest.
	S0, S1 uint32

	pc   uint32
	dnpc uint32
}

// NewRTL creates the primitive layer over regs and bus.
func NewRTL(regs *RegFile, bus *device.Bus) *RTL {
	return &RTL{
		regs: regs,
		bus:  bus,
		zero: &regs.X[0],
	}
}

// Begin prepares the layer for the instruction at pc.
func (r *RTL) Begin(pc uint32) {
	r.pc = pc
	r.dnpc = pc + 4
}

// PC returns the address of the instruction being executed.
func (r *RTL) PC() uint32 { return r.pc }

// DNPC returns the address of the next instruction.
func (r *RTL) DNPC() uint32 { return r.dnpc }

// Reg returns the operand for general-purpose register i.
func (r *RTL) Reg(i uint8) *uint32 {
	return &r.regs.X[i&0x1F]
}

func (r *RTL) set(dest *uint32, value uint32) {
	if dest == r.zero {
		return
	}
	*dest = value
}

// Li loads an immediate.
func (r *RTL) Li(dest *uint32, imm uint32) { r.set(dest, imm) }

// Mv copies src.
func (r *RTL) Mv(dest, src *uint32) { r.set(dest, *src) }

// Add computes a + b.
func (r *RTL) Add(dest, a, b *uint32) { r.set(dest, *a+*b) }

// Addi computes a + imm.
func (r *RTL) Addi(dest, a *uint32, imm uint32) { r.set(dest, *a+imm) }

// Sub computes a - b.
func (r *RTL) Sub(dest, a, b *uint32) { r.set(dest, *a-*b) }

// And computes a & b.
func (r *RTL) And(dest, a, b *uint32) { r.set(dest, *a&*b) }

// Andi computes a & imm.
func (r *RTL) Andi(dest, a *uint32, imm uint32) { r.set(dest, *a&imm) }

// Or computes a | b.
func (r *RTL) Or(dest, a, b *uint32) { r.set(dest, *a|*b) }

// Ori computes a | imm.
func (r *RTL) Ori(dest, a *uint32, imm uint32) { r.set(dest, *a|imm) }

// Xor computes a ^ b.
func (r *RTL) Xor(dest, a, b *uint32) { r.set(dest, *a^*b) }

// Xori computes a ^ imm.
func (r *RTL) Xori(dest, a *uint32, imm uint32) { r.set(dest, *a^imm) }

// Not computes ^src.
func (r *RTL) Not(dest, src *uint32) { r.set(dest, ^*src) }

// Neg computes -src.
func (r *RTL) Neg(dest, src *uint32) { r.set(dest, -*src) }

// Sll shifts a left by the low five bits of b.
func (r *RTL) Sll(dest, a, b *uint32) { r.set(dest, *a<<(*b&0x1F)) }

// Slli shifts a left by the low five bits of imm.
func (r *RTL) Slli(dest, a *uint32, imm uint32) { r.set(dest, *a<<(imm&0x1F)) }

// Srl shifts a right logically by the low five bits of b.
func (r *RTL) Srl(dest, a, b *uint32) { r.set(dest, *a>>(*b&0x1F)) }

// Srli shifts a right logically by the low five bits of imm.
func (r *RTL) Srli(dest, a *uint32, imm uint32) { r.set(dest, *a>>(imm&0x1F)) }

// Sra shifts a right arithmetically by the low five bits of b.
func (r *RTL) Sra(dest, a, b *uint32) {
	r.set(dest, uint32(int32(*a)>>(*b&0x1F)))
}

// Srai shifts a right arithmetically by the low five bits of imm.
func (r *RTL) Srai(dest, a *uint32, imm uint32) {
	r.set(dest, uint32(int32(*a)>>(imm&0x1F)))
}

// SetRelop writes 1 if relop holds for a and b, else 0.
func (r *RTL) SetRelop(relop Relop, dest, a, b *uint32) {
	if relop.Eval(*a, *b) {
		r.set(dest, 1)
		return
	}
	r.set(dest, 0)
}

// J redirects the next PC to target.
func (r *RTL) J(target uint32) { r.dnpc = target }

// Jr redirects the next PC to the value of src.
func (r *RTL) Jr(src *uint32) { r.dnpc = *src }

// Jrelop redirects the next PC to target if relop holds for a and b.
func (r *RTL) Jrelop(relop Relop, a, b *uint32, target uint32) {
	if relop.Eval(*a, *b) {
		r.dnpc = target
	}
}

// SignExtPos sign-extends src from bit pos.
func (r *RTL) SignExtPos(dest, src *uint32, pos uint) {
	r.set(dest, insts.SignExtend(*src, pos))
}

// ZeroExtPos clears every bit of src above pos.
func (r *RTL) ZeroExtPos(dest, src *uint32, pos uint) {
	r.set(dest, insts.ZeroExtend(*src, pos))
}

// Sext sign-extends the low width bytes of src.
func (r *RTL) Sext(dest, src *uint32, width int) {
	r.SignExtPos(dest, src, uint(width*8-1))
}

// Zext zero-extends the low width bytes of src.
func (r *RTL) Zext(dest, src *uint32, width int) {
	r.ZeroExtPos(dest, src, uint(width*8-1))
}

// Msb extracts the most significant bit of the low width bytes of src.
func (r *RTL) Msb(dest, src *uint32, width int) {
	r.set(dest, (*src>>(uint(width)*8-1))&1)
}

// Lm loads width bytes from base + offset. The value is zero-extended;
// routines follow it with Sext for signed loads. Bus faults panic and
// abort the machine.
func (r *RTL) Lm(dest, base *uint32, offset uint32, width int) {
	addr := *base + offset
	value, err := r.bus.Read(addr, width)
	if err != nil {
		panic(fmt.Errorf("load at pc 0x%08x: %w", r.pc, err))
	}
	r.set(dest, value)
}

// Sm stores the low width bytes of src at base + offset.
func (r *RTL) Sm(src, base *uint32, offset uint32, width int) {
	addr := *base + offset
	if err := r.bus.Write(addr, width, *src); err != nil {
		panic(fmt.Errorf("store at pc 0x%08x: %w", r.pc, err))
	}
}

// Mul computes the low 32 bits of a * b.
func (r *RTL) Mul(dest, a, b *uint32) { r.set(dest, *a**b) }

// MulhS computes the high 32 bits of signed a * signed b.
func (r *RTL) MulhS(dest, a, b *uint32) {
	r.set(dest, uint32(uint64(int64(int32(*a))*int64(int32(*b)))>>32))
}

// MulhSU computes the high 32 bits of signed a * unsigned b.
func (r *RTL) MulhSU(dest, a, b *uint32) {
	r.set(dest, uint32(uint64(int64(int32(*a))*int64(*b))>>32))
}

// MulhU computes the high 32 bits of unsigned a * unsigned b.
func (r *RTL) MulhU(dest, a, b *uint32) {
	r.set(dest, uint32(uint64(*a)*uint64(*b)>>32))
}

// Div computes signed a / b. Division by zero yields -1 and
// INT_MIN / -1 yields INT_MIN.
func (r *RTL) Div(dest, a, b *uint32) {
	switch {
	case *b == 0:
		r.set(dest, 0xFFFFFFFF)
	case *a == 0x80000000 && *b == 0xFFFFFFFF:
		r.set(dest, 0x80000000)
	default:
		r.set(dest, uint32(int32(*a)/int32(*b)))
	}
}

// DivU computes unsigned a / b. Division by zero yields all ones.
func (r *RTL) DivU(dest, a, b *uint32) {
	if *b == 0 {
		r.set(dest, 0xFFFFFFFF)
		return
	}
	r.set(dest, *a / *b)
}

// Rem computes the signed remainder. Division by zero yields a and
// INT_MIN % -1 yields 0.
func (r *RTL) Rem(dest, a, b *uint32) {
	switch {
	case *b == 0:
		r.set(dest, *a)
	case *a == 0x80000000 && *b == 0xFFFFFFFF:
		r.set(dest, 0)
	default:
		r.set(dest, uint32(int32(*a)%int32(*b)))
	}
}

// RemU computes the unsigned remainder. Division by zero yields a.
func (r *RTL) RemU(dest, a, b *uint32) {
	if *b == 0 {
		r.set(dest, *a)
		return
	}
	r.set(dest, *a%*b)
}
