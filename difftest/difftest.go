// Package difftest cross-checks the emulator against a reference core,
// instruction by instruction.
package difftest

import (
	"fmt"
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/sarchlab/rvemu/emu"
)

// Snapshot is the architectural state compared after every step.
type Snapshot struct {
	GPR [32]uint32
	PC  uint32
	CSR emu.CSRFile
}

// SnapshotOf captures the state held in regs.
func SnapshotOf(regs *emu.RegFile) Snapshot {
	return Snapshot{GPR: regs.X, PC: regs.PC, CSR: regs.CSR}
}

// RefCore is the control surface of a reference implementation.
type RefCore interface {
	// Init resets the reference to its power-on state.
	Init() error
	// MemCopy copies data into reference memory at addr.
	MemCopy(addr uint32, data []byte) error
	// Exec executes n instructions.
	Exec(n uint64) error
	// GetRegs returns the reference state.
	GetRegs() (Snapshot, error)
	// SetRegs overwrites the reference state.
	SetRegs(s Snapshot) error
	// RaiseIntr makes the reference take a trap with the given cause at
	// its current PC.
	RaiseIntr(cause uint32) error
}

// Option configures a Tester.
type Option func(*Tester)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(t *Tester) {
		t.logger = logger
	}
}

// WithReport writes the colored register dump of every mismatch to w.
func WithReport(w io.Writer) Option {
	return func(t *Tester) {
		t.report = w
	}
}

// Tester runs a RefCore in lockstep with an emulator. It implements
// emu.Checker.
type Tester struct {
	ref RefCore
	dut *emu.Emulator

	skip   bool
	steps  uint64
	logger log.Logger
	report io.Writer
}

// New creates a tester comparing dut against ref. Call Init before the
// first step and attach the tester to dut with AttachChecker.
func New(ref RefCore, dut *emu.Emulator, opts ...Option) *Tester {
	t := &Tester{
		ref:    ref,
		dut:    dut,
		logger: log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Init resets the reference, copies image to addr and copies the full
// machine state into the reference.
func (t *Tester) Init(image []byte, addr uint32) error {
	if err := t.ref.Init(); err != nil {
		return fmt.Errorf("init reference: %w", err)
	}
	if err := t.ref.MemCopy(addr, image); err != nil {
		return fmt.Errorf("copy image to reference: %w", err)
	}
	if err := t.ref.SetRegs(SnapshotOf(t.dut.RegFile())); err != nil {
		return fmt.Errorf("copy registers to reference: %w", err)
	}

	t.skip = false
	t.steps = 0

	_ = level.Info(t.logger).Log(
		"msg", "differential testing enabled",
		"image", len(image),
		"addr", fmt.Sprintf("0x%08x", addr),
	)
	return nil
}

// SkipRefStep makes the next Step copy the machine registers into the
// reference instead of executing the reference.
func (t *Tester) SkipRefStep() {
	t.skip = true
}

// RaiseIntr makes the reference take the trap the machine just took.
func (t *Tester) RaiseIntr(cause uint32) error {
	return t.ref.RaiseIntr(cause)
}

// Step advances the reference by n instructions and compares its state
// with the machine. A pending skip applies to the last of the n
// instructions: the reference executes the others, then only syncs GPRs
// and PC.
func (t *Tester) Step(n uint64) error {
	t.steps += n

	if t.skip {
		t.skip = false
		if n > 1 {
			if err := t.ref.Exec(n - 1); err != nil {
				return fmt.Errorf("reference step %d: %w", t.steps-1, err)
			}
		}
		return t.sync()
	}

	if err := t.ref.Exec(n); err != nil {
		return fmt.Errorf("reference step %d: %w", t.steps, err)
	}

	ref, err := t.ref.GetRegs()
	if err != nil {
		return fmt.Errorf("read reference registers: %w", err)
	}

	if merr := Compare(SnapshotOf(t.dut.RegFile()), ref); merr != nil {
		merr.Step = t.steps
		_ = level.Error(t.logger).Log(
			"msg", "difference with reference",
			"step", t.steps,
			"pc", fmt.Sprintf("0x%08x", merr.DUT.PC),
			"fields", len(merr.Fields),
		)
		if t.report != nil {
			merr.Dump(t.report)
		}
		return merr
	}
	return nil
}

func (t *Tester) sync() error {
	ref, err := t.ref.GetRegs()
	if err != nil {
		return fmt.Errorf("read reference registers: %w", err)
	}

	dut := t.dut.RegFile()
	ref.GPR = dut.X
	ref.PC = dut.PC

	if err := t.ref.SetRegs(ref); err != nil {
		return fmt.Errorf("sync reference registers: %w", err)
	}
	return nil
}
