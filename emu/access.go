package emu

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
)

// ABI register indices used by the core.
const (
	RegRA uint8 = 1
	RegSP uint8 = 2
	RegA0 uint8 = 10
	RegA1 uint8 = 11
	RegA2 uint8 = 12
	RegA7 uint8 = 17
)

// ErrUnknownRegister is returned for a register name the machine does not
// have.
var ErrUnknownRegister = errors.New("unknown register")

var abiNames = [32]string{
	"$0", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

var csrByName = map[string]uint16{
	"mstatus": CSRMstatus,
	"mtvec":   CSRMtvec,
	"mepc":    CSRMepc,
	"mcause":  CSRMcause,
	"mhartid": CSRMhartid,
}

// RegName returns the ABI name of general-purpose register i.
func RegName(i int) string {
	if i < 0 || i >= len(abiNames) {
		return ""
	}
	return abiNames[i]
}

func gprIndex(name string) (int, bool) {
	switch name {
	case "zero":
		return 0, true
	case "fp":
		return 8, true
	}
	for i, n := range abiNames {
		if n == name {
			return i, true
		}
	}
	// xN takes N in canonical decimal: no sign, no leading zeros.
	if digits, ok := strings.CutPrefix(name, "x"); ok {
		i, err := strconv.Atoi(digits)
		if err == nil && i >= 0 && i < 32 && strconv.Itoa(i) == digits {
			return i, true
		}
	}
	return 0, false
}

// RegByName reads a register by ABI name, xN name, "pc" or CSR name. A
// leading '$' is accepted on every name.
func (e *Emulator) RegByName(name string) (uint32, error) {
	ptr, err := e.regPtr(name)
	if err != nil {
		return 0, err
	}
	return *ptr, nil
}

// SetRegByName writes a register by name. Writes to x0 are discarded.
func (e *Emulator) SetRegByName(name string, value uint32) error {
	ptr, err := e.regPtr(name)
	if err != nil {
		return err
	}
	if ptr == &e.regFile.X[0] {
		return nil
	}
	*ptr = value
	return nil
}

func (e *Emulator) regPtr(name string) (*uint32, error) {
	if name != "$0" {
		name = strings.TrimPrefix(name, "$")
	}

	if i, ok := gprIndex(name); ok {
		return &e.regFile.X[i], nil
	}
	if name == "pc" {
		return &e.regFile.PC, nil
	}
	if addr, ok := csrByName[name]; ok {
		return e.regFile.CSR.Ptr(addr), nil
	}
	return nil, fmt.Errorf("%q: %w", name, ErrUnknownRegister)
}

// DisplayRegs writes every register in hex, unsigned and signed form.
func (e *Emulator) DisplayRegs(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)

	row := func(name string, v uint32) {
		_, _ = fmt.Fprintf(tw, "%s\t0x%08x\t%d\t%d\n", name, v, v, int32(v))
	}

	for i, name := range abiNames {
		row(name, e.regFile.X[i])
	}
	row("pc", e.regFile.PC)
	for _, addr := range []uint16{CSRMstatus, CSRMtvec, CSRMepc, CSRMcause} {
		row(CSRName(addr), *e.regFile.CSR.Ptr(addr))
	}

	_ = tw.Flush()
}

// ReadMem reads width bytes at addr through the bus. Device reads have
// their usual side effects.
func (e *Emulator) ReadMem(addr uint32, width int) (uint32, error) {
	return e.bus.Read(addr, width)
}

// ReadWords reads n consecutive words starting at addr.
func (e *Emulator) ReadWords(addr uint32, n int) ([]uint32, error) {
	words := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		w, err := e.bus.Read(addr+uint32(4*i), 4)
		if err != nil {
			return words, err
		}
		words = append(words, w)
	}
	return words, nil
}
