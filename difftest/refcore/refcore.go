// Package refcore is a plain RV32IM interpreter over flat memory, used as
// the reference in differential testing.
package refcore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sarchlab/rvemu/difftest"
	"github.com/sarchlab/rvemu/emu"
)

// Reference core errors.
var (
	ErrUnmapped = errors.New("address not in reference memory")
	ErrIllegal  = errors.New("illegal instruction")
)

// Core is the reference interpreter. It has no devices.
type Core struct {
	base uint32
	mem  []byte

	x   [32]uint32
	pc  uint32
	csr emu.CSRFile
}

var _ difftest.RefCore = (*Core)(nil)

// New creates a core with size bytes of memory at base.
func New(base, size uint32) *Core {
	return &Core{base: base, mem: make([]byte, size)}
}

// Init resets registers and clears memory.
func (c *Core) Init() error {
	for i := range c.mem {
		c.mem[i] = 0
	}
	c.x = [32]uint32{}
	c.pc = c.base
	c.csr = emu.CSRFile{Mstatus: emu.ResetMstatus}
	return nil
}

// MemCopy implements difftest.RefCore.
func (c *Core) MemCopy(addr uint32, data []byte) error {
	off, ok := c.offset(addr, len(data))
	if !ok {
		return fmt.Errorf("copy %d bytes to 0x%08x: %w", len(data), addr, ErrUnmapped)
	}
	copy(c.mem[off:], data)
	return nil
}

// GetRegs implements difftest.RefCore.
func (c *Core) GetRegs() (difftest.Snapshot, error) {
	return difftest.Snapshot{GPR: c.x, PC: c.pc, CSR: c.csr}, nil
}

// SetRegs implements difftest.RefCore.
func (c *Core) SetRegs(s difftest.Snapshot) error {
	c.x = s.GPR
	c.x[0] = 0
	c.pc = s.PC
	c.csr = s.CSR
	return nil
}

// RaiseIntr implements difftest.RefCore.
func (c *Core) RaiseIntr(cause uint32) error {
	c.trap(cause)
	return nil
}

// Exec implements difftest.RefCore.
func (c *Core) Exec(n uint64) error {
	for i := uint64(0); i < n; i++ {
		if err := c.step(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Core) offset(addr uint32, n int) (uint32, bool) {
	if addr < c.base {
		return 0, false
	}
	off := addr - c.base
	if uint64(off)+uint64(n) > uint64(len(c.mem)) {
		return 0, false
	}
	return off, true
}

func (c *Core) load(addr uint32, n int) (uint32, error) {
	off, ok := c.offset(addr, n)
	if !ok {
		return 0, fmt.Errorf("load 0x%08x: %w", addr, ErrUnmapped)
	}
	switch n {
	case 1:
		return uint32(c.mem[off]), nil
	case 2:
		return uint32(binary.LittleEndian.Uint16(c.mem[off:])), nil
	}
	return binary.LittleEndian.Uint32(c.mem[off:]), nil
}

func (c *Core) store(addr uint32, n int, v uint32) error {
	off, ok := c.offset(addr, n)
	if !ok {
		return fmt.Errorf("store 0x%08x: %w", addr, ErrUnmapped)
	}
	switch n {
	case 1:
		c.mem[off] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(c.mem[off:], uint16(v))
	default:
		binary.LittleEndian.PutUint32(c.mem[off:], v)
	}
	return nil
}

func (c *Core) trap(cause uint32) {
	c.csr.Mepc = c.pc
	c.csr.Mcause = cause

	s := c.csr.Mstatus
	mie := (s >> 3) & 1
	s = s&^(1<<7) | mie<<7
	s |= 3 << 11
	s &^= 1<<3 | 1<<17 | 1<<18
	c.csr.Mstatus = s

	c.pc = c.csr.Mtvec &^ 3
	if c.csr.Mtvec&3 == 1 {
		c.pc += 4 * cause
	}
}

func sext(v uint32, bitsWide uint) uint32 {
	shift := 32 - bitsWide
	return uint32(int32(v<<shift) >> shift)
}

func (c *Core) step() error {
	inst, err := c.load(c.pc, 4)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	opcode := inst & 0x7F
	rd := (inst >> 7) & 0x1F
	f3 := (inst >> 12) & 0x7
	rs1 := (inst >> 15) & 0x1F
	rs2 := (inst >> 20) & 0x1F
	f7 := inst >> 25
	a, b := c.x[rs1], c.x[rs2]

	immI := sext(inst>>20, 12)
	immS := sext((inst>>25)<<5|(inst>>7)&0x1F, 12)
	immB := sext((inst>>31)<<12|((inst>>7)&1)<<11|((inst>>25)&0x3F)<<5|((inst>>8)&0xF)<<1, 13)
	immU := inst & 0xFFFFF000
	immJ := sext((inst>>31)<<20|((inst>>12)&0xFF)<<12|((inst>>20)&1)<<11|((inst>>21)&0x3FF)<<1, 21)

	next := c.pc + 4
	var (
		result uint32
		write  bool
	)

	switch opcode {
	case 0x37:
		result, write = immU, true
	case 0x17:
		result, write = c.pc+immU, true
	case 0x6F:
		result, write = c.pc+4, true
		next = c.pc + immJ
	case 0x67:
		if f3 != 0 {
			return c.illegal()
		}
		result, write = c.pc+4, true
		next = (a + immI) &^ 1
	case 0x63:
		var taken bool
		switch f3 {
		case 0:
			taken = a == b
		case 1:
			taken = a != b
		case 4:
			taken = int32(a) < int32(b)
		case 5:
			taken = int32(a) >= int32(b)
		case 6:
			taken = a < b
		case 7:
			taken = a >= b
		default:
			return c.illegal()
		}
		if taken {
			next = c.pc + immB
		}
	case 0x03:
		addr := a + immI
		var v uint32
		switch f3 {
		case 0, 4:
			v, err = c.load(addr, 1)
			if f3 == 0 {
				v = sext(v, 8)
			}
		case 1, 5:
			v, err = c.load(addr, 2)
			if f3 == 1 {
				v = sext(v, 16)
			}
		case 2:
			v, err = c.load(addr, 4)
		default:
			return c.illegal()
		}
		if err != nil {
			return err
		}
		result, write = v, true
	case 0x23:
		addr := a + immS
		switch f3 {
		case 0:
			err = c.store(addr, 1, b)
		case 1:
			err = c.store(addr, 2, b)
		case 2:
			err = c.store(addr, 4, b)
		default:
			return c.illegal()
		}
		if err != nil {
			return err
		}
	case 0x13:
		shamt := rs2
		switch f3 {
		case 0:
			result = a + immI
		case 2:
			result = boolTo(int32(a) < int32(immI))
		case 3:
			result = boolTo(a < immI)
		case 4:
			result = a ^ immI
		case 6:
			result = a | immI
		case 7:
			result = a & immI
		case 1:
			if f7 != 0 {
				return c.illegal()
			}
			result = a << shamt
		case 5:
			switch f7 {
			case 0:
				result = a >> shamt
			case 0x20:
				result = uint32(int32(a) >> shamt)
			default:
				return c.illegal()
			}
		}
		write = true
	case 0x33:
		var ok bool
		result, ok = aluOp(f7, f3, a, b)
		if !ok {
			return c.illegal()
		}
		write = true
	case 0x0F:
		// fence and fence.i; the other funct3 values are reserved
		if f3 > 1 {
			return c.illegal()
		}
	case 0x73:
		return c.system(inst, rd, f3, rs1)
	default:
		return c.illegal()
	}

	if write && rd != 0 {
		c.x[rd] = result
	}
	c.pc = next
	return nil
}

func aluOp(f7, f3, a, b uint32) (uint32, bool) {
	sh := b & 0x1F
	switch f7 {
	case 0x00:
		switch f3 {
		case 0:
			return a + b, true
		case 1:
			return a << sh, true
		case 2:
			return boolTo(int32(a) < int32(b)), true
		case 3:
			return boolTo(a < b), true
		case 4:
			return a ^ b, true
		case 5:
			return a >> sh, true
		case 6:
			return a | b, true
		case 7:
			return a & b, true
		}
	case 0x20:
		switch f3 {
		case 0:
			return a - b, true
		case 5:
			return uint32(int32(a) >> sh), true
		}
	case 0x01:
		sa, sb := int64(int32(a)), int64(int32(b))
		switch f3 {
		case 0:
			return a * b, true
		case 1:
			return uint32(uint64(sa*sb) >> 32), true
		case 2:
			return uint32(uint64(sa*int64(b)) >> 32), true
		case 3:
			return uint32(uint64(a) * uint64(b) >> 32), true
		case 4:
			if b == 0 {
				return 0xFFFFFFFF, true
			}
			return uint32(sa / sb), true
		case 5:
			if b == 0 {
				return 0xFFFFFFFF, true
			}
			return a / b, true
		case 6:
			if b == 0 {
				return a, true
			}
			return uint32(sa % sb), true
		case 7:
			if b == 0 {
				return a, true
			}
			return a % b, true
		}
	}
	return 0, false
}

func (c *Core) system(inst, rd, f3, rs1 uint32) error {
	if f3 == 0 {
		switch inst {
		case 0x00000073:
			c.trap(c.x[17])
		case 0x00100073:
			c.trap(emu.CauseBreakpoint)
		case 0x30200073:
			s := c.csr.Mstatus &^ (3 << 11)
			mpie := (s >> 7) & 1
			s = s&^(1<<3) | mpie<<3 | 1<<7
			c.csr.Mstatus = s
			c.pc = c.csr.Mepc
		default:
			return c.illegal()
		}
		return nil
	}

	addr := inst >> 20
	var p *uint32
	switch addr {
	case 0x300:
		p = &c.csr.Mstatus
	case 0x305:
		p = &c.csr.Mtvec
	case 0x341:
		p = &c.csr.Mepc
	case 0x342:
		p = &c.csr.Mcause
	case 0xF14:
		p = &c.csr.Mhartid
	default:
		return fmt.Errorf("csr 0x%03x at pc 0x%08x: %w", addr, c.pc, ErrIllegal)
	}
	writable := (addr>>10)&3 != 3

	src := c.x[rs1]
	if f3 >= 5 {
		src = rs1
	}
	old := *p

	switch f3 & 3 {
	case 1:
		if writable {
			*p = src
		}
	case 2:
		if writable && rs1 != 0 {
			*p = old | src
		}
	case 3:
		if writable && rs1 != 0 {
			*p = old &^ src
		}
	default:
		return c.illegal()
	}

	if rd != 0 {
		c.x[rd] = old
	}
	c.pc += 4
	return nil
}

func (c *Core) illegal() error {
	c.trap(emu.CauseIllegalInstruction)
	return nil
}

func boolTo(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}
