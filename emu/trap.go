package emu

import (
	"fmt"

	"github.com/go-kit/log/level"

	"github.com/sarchlab/rvemu/insts"
)

// Exception causes raised by the core itself.
const (
	CauseIllegalInstruction uint32 = 2
	CauseBreakpoint         uint32 = 3
)

// Event is the guest-level meaning of a trap cause.
type Event uint8

// Guest events.
const (
	EventError Event = iota
	EventSyscall
	EventYield
)

func (ev Event) String() string {
	switch ev {
	case EventSyscall:
		return "syscall"
	case EventYield:
		return "yield"
	}
	return "error"
}

// Highest system call number of the guest convention.
const maxSyscallCause uint32 = 19

// CauseYield is the cause a guest uses to yield the CPU.
const CauseYield uint32 = 0xFFFFFFFF

// ClassifyCause maps an mcause value to the event it means to the guest.
func ClassifyCause(cause uint32) Event {
	switch {
	case cause <= maxSyscallCause:
		return EventSyscall
	case cause == CauseYield:
		return EventYield
	}
	return EventError
}

// RaiseTrap enters the trap handler for cause with epc as the faulting PC
// and returns the handler address. The attached checker is told so the
// reference core takes the same trap.
func (e *Emulator) RaiseTrap(cause, epc uint32) uint32 {
	if e.checker != nil {
		e.syncChecker()
		if err := e.checker.RaiseIntr(cause); err != nil {
			panic(fmt.Errorf("reference trap: %w", err))
		}
		e.skipChecker()
	}

	csr := &e.regFile.CSR

	csr.Mepc = epc
	csr.Mcause = cause

	mstatus := csr.Mstatus
	if mstatus&MstatusMIE != 0 {
		mstatus |= MstatusMPIE
	} else {
		mstatus &^= MstatusMPIE
	}
	mstatus |= MstatusMPP
	mstatus &^= MstatusMIE | MstatusMPV | MstatusGVA
	csr.Mstatus = mstatus

	base := csr.Mtvec &^ 3
	target := base
	if csr.Mtvec&3 == 1 {
		target = base + 4*cause
	}

	e.tracer.exception(cause, epc, target)

	return target
}

func (e *Emulator) mret() {
	csr := &e.regFile.CSR

	mstatus := csr.Mstatus &^ MstatusMPP
	if mstatus&MstatusMPIE != 0 {
		mstatus |= MstatusMIE
	} else {
		mstatus &^= MstatusMIE
	}
	mstatus |= MstatusMPIE
	csr.Mstatus = mstatus

	e.rtl.Jr(&csr.Mepc)
}

func (e *Emulator) ecall() {
	if e.syscallHandler != nil {
		e.skipChecker()
		result := e.syscallHandler.Handle()
		if result.Exited {
			e.halt(uint32(result.ExitCode))
		}
		return
	}

	cause := e.regFile.ReadReg(RegA7)
	e.rtl.J(e.RaiseTrap(cause, e.rtl.PC()))
}

func (e *Emulator) ebreak() {
	if e.haltOnEbreak {
		e.halt(e.regFile.ReadReg(RegA0))
		return
	}
	e.rtl.J(e.RaiseTrap(CauseBreakpoint, e.rtl.PC()))
}

func (e *Emulator) invalidInst(inst *insts.Instruction) {
	_ = level.Warn(e.logger).Log(
		"msg", "invalid instruction",
		"pc", fmt.Sprintf("0x%08x", e.rtl.PC()),
		"inst", fmt.Sprintf("0x%08x", inst.Raw),
	)
	e.rtl.J(e.RaiseTrap(CauseIllegalInstruction, e.rtl.PC()))
}
