// Package emu provides functional RV32IM emulation.
package emu

// RegFile represents the RV32 architectural state: 32 general-purpose
// registers, the program counter and the machine-mode CSRs.
type RegFile struct {
	// X holds general-purpose registers x0-x31. X[0] always reads as 0.
	X [32]uint32

	// PC is the program counter.
	PC uint32

	// CSR holds the machine-mode control and status registers.
	CSR CSRFile
}

// ReadReg reads a register value. Register 0 and out-of-range indices
// return 0.
func (r *RegFile) ReadReg(reg uint8) uint32 {
	if reg == 0 || reg >= 32 {
		return 0
	}
	return r.X[reg]
}

// WriteReg writes a value to a register. Writes to x0 are discarded.
func (r *RegFile) WriteReg(reg uint8, value uint32) {
	if reg == 0 || reg >= 32 {
		return
	}
	r.X[reg] = value
}
