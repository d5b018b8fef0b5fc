//go:build unicorn
// +build unicorn

// Package unicornref runs the Unicorn engine as the reference core.
package unicornref

import (
	"fmt"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/sarchlab/rvemu/difftest"
	"github.com/sarchlab/rvemu/emu"
)

const pageSize = 0x1000

var gprRegs = func() [32]int {
	var regs [32]int
	for i := range regs {
		regs[i] = uc.RISCV_REG_X0 + i
	}
	return regs
}()

// Core wraps a Unicorn RV32 instance with RAM mapped at base.
type Core struct {
	mu   uc.Unicorn
	base uint32
	size uint32
}

var _ difftest.RefCore = (*Core)(nil)

// New creates a core with size bytes of RAM at base. size is rounded up
// to whole pages.
func New(base, size uint32) (*Core, error) {
	mu, err := uc.NewUnicorn(uc.ARCH_RISCV, uc.MODE_RISCV32)
	if err != nil {
		return nil, fmt.Errorf("create unicorn: %w", err)
	}

	size = (size + pageSize - 1) &^ (pageSize - 1)
	if err := mu.MemMap(uint64(base), uint64(size)); err != nil {
		mu.Close()
		return nil, fmt.Errorf("map guest RAM: %w", err)
	}

	return &Core{mu: mu, base: base, size: size}, nil
}

// Close releases the engine.
func (c *Core) Close() error {
	return c.mu.Close()
}

// Init clears memory and registers.
func (c *Core) Init() error {
	if err := c.mu.MemWrite(uint64(c.base), make([]byte, c.size)); err != nil {
		return fmt.Errorf("clear guest RAM: %w", err)
	}
	return c.SetRegs(difftest.Snapshot{
		PC:  c.base,
		CSR: emu.CSRFile{Mstatus: emu.ResetMstatus},
	})
}

// MemCopy implements difftest.RefCore.
func (c *Core) MemCopy(addr uint32, data []byte) error {
	return c.mu.MemWrite(uint64(addr), data)
}

// Exec implements difftest.RefCore.
func (c *Core) Exec(n uint64) error {
	pc, err := c.mu.RegRead(uc.RISCV_REG_PC)
	if err != nil {
		return err
	}
	return c.mu.StartWithOptions(pc, 0, &uc.UcOptions{Count: n})
}

// GetRegs implements difftest.RefCore.
func (c *Core) GetRegs() (difftest.Snapshot, error) {
	var s difftest.Snapshot

	for i, reg := range gprRegs {
		v, err := c.mu.RegRead(reg)
		if err != nil {
			return s, fmt.Errorf("read x%d: %w", i, err)
		}
		s.GPR[i] = uint32(v)
	}

	pc, err := c.mu.RegRead(uc.RISCV_REG_PC)
	if err != nil {
		return s, err
	}
	s.PC = uint32(pc)

	for _, r := range c.csrRegs(&s.CSR) {
		v, err := c.mu.RegRead(r.reg)
		if err != nil {
			return s, err
		}
		*r.val = uint32(v)
	}

	return s, nil
}

// SetRegs implements difftest.RefCore.
func (c *Core) SetRegs(s difftest.Snapshot) error {
	for i, reg := range gprRegs {
		if i == 0 {
			continue
		}
		if err := c.mu.RegWrite(reg, uint64(s.GPR[i])); err != nil {
			return fmt.Errorf("write x%d: %w", i, err)
		}
	}
	if err := c.mu.RegWrite(uc.RISCV_REG_PC, uint64(s.PC)); err != nil {
		return err
	}

	for _, r := range c.csrRegs(&s.CSR) {
		if err := c.mu.RegWrite(r.reg, uint64(*r.val)); err != nil {
			return err
		}
	}
	return nil
}

// RaiseIntr mirrors the trap entry by writing the CSRs directly; Unicorn
// has no entry point for injecting a synchronous exception.
func (c *Core) RaiseIntr(cause uint32) error {
	s, err := c.GetRegs()
	if err != nil {
		return err
	}

	s.CSR.Mepc = s.PC
	s.CSR.Mcause = cause

	mstatus := s.CSR.Mstatus
	if mstatus&emu.MstatusMIE != 0 {
		mstatus |= emu.MstatusMPIE
	} else {
		mstatus &^= emu.MstatusMPIE
	}
	mstatus |= emu.MstatusMPP
	mstatus &^= emu.MstatusMIE | emu.MstatusMPV | emu.MstatusGVA
	s.CSR.Mstatus = mstatus

	s.PC = s.CSR.Mtvec &^ 3
	if s.CSR.Mtvec&3 == 1 {
		s.PC += 4 * cause
	}

	return c.SetRegs(s)
}

type csrReg struct {
	reg int
	val *uint32
}

func (c *Core) csrRegs(f *emu.CSRFile) []csrReg {
	return []csrReg{
		{uc.RISCV_REG_MSTATUS, &f.Mstatus},
		{uc.RISCV_REG_MTVEC, &f.Mtvec},
		{uc.RISCV_REG_MEPC, &f.Mepc},
		{uc.RISCV_REG_MCAUSE, &f.Mcause},
	}
}
