package emu

import (
	"errors"
	"fmt"
)

// CSR addresses.
const (
	CSRMstatus uint16 = 0x300
	CSRMtvec   uint16 = 0x305
	CSRMepc    uint16 = 0x341
	CSRMcause  uint16 = 0x342
	CSRMhartid uint16 = 0xF14
)

// mstatus fields.
const (
	MstatusMIE  uint32 = 1 << 3
	MstatusMPIE uint32 = 1 << 7
	MstatusMPP  uint32 = 3 << 11
	MstatusMPV  uint32 = 1 << 17
	MstatusGVA  uint32 = 1 << 18

	mstatusMPPShift = 11
)

// ResetMstatus is the mstatus value after reset: MPP = machine.
const ResetMstatus uint32 = 0x1800

// ErrUnknownCSR is raised when an instruction names a CSR the machine does
// not implement.
var ErrUnknownCSR = errors.New("unknown CSR")

// CSRFile holds the implemented machine-mode CSRs.
type CSRFile struct {
	Mstatus uint32
	Mtvec   uint32
	Mepc    uint32
	Mcause  uint32
	Mhartid uint32
}

// Ptr returns the storage of the CSR at addr. It panics with ErrUnknownCSR
// for an unimplemented address.
func (c *CSRFile) Ptr(addr uint16) *uint32 {
	switch addr {
	case CSRMstatus:
		return &c.Mstatus
	case CSRMtvec:
		return &c.Mtvec
	case CSRMepc:
		return &c.Mepc
	case CSRMcause:
		return &c.Mcause
	case CSRMhartid:
		return &c.Mhartid
	}
	panic(fmt.Errorf("csr 0x%03x: %w", addr, ErrUnknownCSR))
}

// CSRWritable reports whether the CSR at addr accepts writes. Addresses
// with bits [11:10] == 0b11 are read-only.
func CSRWritable(addr uint16) bool {
	return (addr>>10)&0x3 != 0x3
}

// CSRName returns the assembler name of the CSR at addr, or "" if the CSR
// is not implemented.
func CSRName(addr uint16) string {
	switch addr {
	case CSRMstatus:
		return "mstatus"
	case CSRMtvec:
		return "mtvec"
	case CSRMepc:
		return "mepc"
	case CSRMcause:
		return "mcause"
	case CSRMhartid:
		return "mhartid"
	}
	return ""
}
