package difftest

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/hashicorp/go-multierror"

	"github.com/sarchlab/rvemu/emu"
)

// ErrMismatch matches every *MismatchError.
var ErrMismatch = errors.New("state differs from reference")

// Field is one register whose value differs.
type Field struct {
	Name string
	DUT  uint32
	Ref  uint32
}

func (f Field) Error() string {
	return fmt.Sprintf("%s: dut 0x%08x (%d) ref 0x%08x (%d)",
		f.Name, f.DUT, int32(f.DUT), f.Ref, int32(f.Ref))
}

// MismatchError lists every register that differs after a step.
type MismatchError struct {
	Step   uint64
	DUT    Snapshot
	Ref    Snapshot
	Fields []Field

	errs *multierror.Error
}

// Error implements error.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s at pc 0x%08x: %s", ErrMismatch, e.DUT.PC, e.errs.Error())
}

// Is matches ErrMismatch.
func (e *MismatchError) Is(target error) bool {
	return target == ErrMismatch
}

// Unwrap returns the per-field errors.
func (e *MismatchError) Unwrap() error {
	return e.errs.ErrorOrNil()
}

var compareCSRs = []uint16{emu.CSRMstatus, emu.CSRMtvec, emu.CSRMepc, emu.CSRMcause}

// Compare checks the GPRs, then the PC, then the machine CSRs. It returns
// nil when the snapshots agree.
func Compare(dut, ref Snapshot) *MismatchError {
	var fields []Field

	for i := range dut.GPR {
		if dut.GPR[i] != ref.GPR[i] {
			fields = append(fields, Field{Name: emu.RegName(i), DUT: dut.GPR[i], Ref: ref.GPR[i]})
		}
	}
	if dut.PC != ref.PC {
		fields = append(fields, Field{Name: "pc", DUT: dut.PC, Ref: ref.PC})
	}
	for _, addr := range compareCSRs {
		d, r := *dut.CSR.Ptr(addr), *ref.CSR.Ptr(addr)
		if d != r {
			fields = append(fields, Field{Name: emu.CSRName(addr), DUT: d, Ref: r})
		}
	}

	if len(fields) == 0 {
		return nil
	}

	var errs *multierror.Error
	for _, f := range fields {
		errs = multierror.Append(errs, f)
	}
	errs.ErrorFormat = func(es []error) string {
		parts := make([]string, len(es))
		for i, e := range es {
			parts[i] = e.Error()
		}
		return strings.Join(parts, "; ")
	}

	return &MismatchError{DUT: dut, Ref: ref, Fields: fields, errs: errs}
}

// Dump writes both register files side by side, highlighting the rows
// that differ.
func (e *MismatchError) Dump(w io.Writer) {
	bad := color.New(color.FgRed, color.Bold)
	head := color.New(color.FgYellow)

	_, _ = head.Fprintf(w, "difference at step %d, pc 0x%08x\n", e.Step, e.DUT.PC)
	_, _ = fmt.Fprintf(w, "%-8s %-24s %-24s\n", "reg", "dut", "ref")

	row := func(name string, d, r uint32) {
		line := fmt.Sprintf("%-8s 0x%08x %-13d 0x%08x %-13d\n", name, d, int32(d), r, int32(r))
		if d != r {
			_, _ = bad.Fprint(w, line)
			return
		}
		_, _ = fmt.Fprint(w, line)
	}

	for i := range e.DUT.GPR {
		row(emu.RegName(i), e.DUT.GPR[i], e.Ref.GPR[i])
	}
	row("pc", e.DUT.PC, e.Ref.PC)
	for _, addr := range compareCSRs {
		d, r := e.DUT.CSR, e.Ref.CSR
		row(emu.CSRName(addr), *d.Ptr(addr), *r.Ptr(addr))
	}
}
