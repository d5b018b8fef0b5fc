package emu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/sarchlab/rvemu/device"
	"github.com/sarchlab/rvemu/insts"
)

// ErrMaxInstructions is reported when the instruction limit stops the
// machine.
var ErrMaxInstructions = errors.New("max instructions reached")

// State is the run state of the machine.
type State uint8

// Machine states.
const (
	StateStop State = iota
	StateRunning
	StateEnd
	StateAbort
	StateQuit
)

func (s State) String() string {
	switch s {
	case StateStop:
		return "stop"
	case StateRunning:
		return "running"
	case StateEnd:
		return "end"
	case StateAbort:
		return "abort"
	case StateQuit:
		return "quit"
	}
	return fmt.Sprintf("state(%d)", s)
}

// StepResult represents the machine state after executing an instruction.
type StepResult struct {
	// State is the run state after the step.
	State State

	// ExitCode is the guest exit status if State is StateEnd.
	ExitCode int64

	// HaltPC is the PC of the instruction that halted the machine.
	HaltPC uint32

	// Err is set if State is StateAbort, or when the instruction limit
	// stopped the machine.
	Err error
}

// GoodTrap reports whether the guest halted with exit status 0.
func (r StepResult) GoodTrap() bool {
	return r.State == StateEnd && r.ExitCode == 0
}

// Checker cross-checks the machine against a reference after every
// instruction. It is implemented by the differential tester.
type Checker interface {
	// Step advances the reference by n instructions and compares.
	Step(n uint64) error
	// SkipRefStep makes the next Step copy the machine state into the
	// reference instead of executing it.
	SkipRefStep()
	// RaiseIntr makes the reference take the trap with the given cause.
	RaiseIntr(cause uint32) error
}

// FetchCache holds decoded instructions by PC.
type FetchCache interface {
	Lookup(pc uint32) (*insts.Instruction, bool)
	Insert(pc uint32, inst *insts.Instruction)
	Invalidate(addr uint32, width int)
	Reset()
}

// DefaultBatchSize is the number of instructions Run executes between
// context checks.
const DefaultBatchSize = 1024

// Emulator executes RV32IM instructions functionally.
type Emulator struct {
	regFile   *RegFile
	bus       *device.Bus
	rtl       *RTL
	decoder   *insts.Decoder
	execTable map[insts.Op]execFunc

	syscallHandler SyscallHandler
	hostSyscalls   bool
	haltOnEbreak   bool
	checker        Checker
	checkBatch     uint64
	unchecked      uint64 // instructions not yet stepped on the checker
	checkNow       bool
	executing      bool
	fetchCache     FetchCache

	logger   log.Logger
	traceCfg TraceConfig
	tracer   *tracer

	// I/O
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// Execution state
	resetVector      uint32
	state            State
	exitCode         int64
	haltPC           uint32
	err              error
	instructionCount uint64
	maxInstructions  uint64 // 0 means no limit
	batchSize        int
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithBus runs the machine on bus instead of a bus with the default
// memory layout and no devices.
func WithBus(bus *device.Bus) EmulatorOption {
	return func(e *Emulator) {
		e.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) EmulatorOption {
	return func(e *Emulator) {
		e.logger = logger
	}
}

// WithStdin sets the reader behind guest fd 0 for host syscalls.
func WithStdin(r io.Reader) EmulatorOption {
	return func(e *Emulator) {
		e.stdin = r
	}
}

// WithStdout sets a custom stdout writer.
func WithStdout(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stdout = w
	}
}

// WithStderr sets a custom stderr writer. Abort reports are written here.
func WithStderr(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stderr = w
	}
}

// WithSyscallHandler services ecall on the host with handler instead of
// trapping into the guest.
func WithSyscallHandler(handler SyscallHandler) EmulatorOption {
	return func(e *Emulator) {
		e.syscallHandler = handler
	}
}

// WithHostSyscalls services ecall on the host with the default handler.
func WithHostSyscalls() EmulatorOption {
	return func(e *Emulator) {
		e.hostSyscalls = true
	}
}

// WithHaltOnEbreak makes ebreak halt the machine with a0 as exit code.
func WithHaltOnEbreak() EmulatorOption {
	return func(e *Emulator) {
		e.haltOnEbreak = true
	}
}

// WithMaxInstructions sets the maximum number of instructions to execute.
// A value of 0 means no limit.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// WithCheckBatch steps the attached checker once every n instructions
// instead of after each one. Device accesses, traps and halts still bring
// the checker up to date before they take effect.
func WithCheckBatch(n uint64) EmulatorOption {
	return func(e *Emulator) {
		e.checkBatch = n
	}
}

// WithTrace enables trace categories.
func WithTrace(cfg TraceConfig) EmulatorOption {
	return func(e *Emulator) {
		e.traceCfg = cfg
	}
}

// WithFetchCache puts a decoded-instruction cache in front of fetch.
func WithFetchCache(c FetchCache) EmulatorOption {
	return func(e *Emulator) {
		e.fetchCache = c
	}
}

// WithResetVector sets the PC after reset. It defaults to the RAM base.
func WithResetVector(pc uint32) EmulatorOption {
	return func(e *Emulator) {
		e.resetVector = pc
	}
}

// WithBatchSize sets how many instructions Run executes between context
// checks.
func WithBatchSize(n int) EmulatorOption {
	return func(e *Emulator) {
		e.batchSize = n
	}
}

// NewEmulator creates a machine in reset state with the built-in image
// loaded at the reset vector.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		regFile:   &RegFile{},
		decoder:   insts.NewDecoder(),
		execTable: newExecTable(),
		logger:    log.NewNopLogger(),
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		batchSize: DefaultBatchSize,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.bus == nil {
		e.bus = device.NewBus(device.DefaultMemBase, device.DefaultMemSize)
	}
	if e.resetVector == 0 {
		e.resetVector = e.bus.RAM().Base
	}
	if e.batchSize <= 0 {
		e.batchSize = DefaultBatchSize
	}
	if e.checkBatch == 0 {
		e.checkBatch = 1
	}

	e.rtl = NewRTL(e.regFile, e.bus)
	e.tracer = newTracer(e.traceCfg, e.logger)

	if e.syscallHandler == nil && e.hostSyscalls {
		h := NewDefaultSyscallHandler(e.regFile, e.bus, e.stdout, e.stderr)
		h.SetStdin(e.stdin)
		e.syscallHandler = h
	}

	e.bus.SetWriteHook(e.onMemWrite)
	e.bus.SetDeviceHook(e.onDeviceAccess)

	e.Reset()

	return e
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return e.regFile
}

// Bus returns the emulator's memory bus.
func (e *Emulator) Bus() *device.Bus {
	return e.bus
}

// RTL returns the primitive layer the instruction routines run on.
func (e *Emulator) RTL() *RTL {
	return e.rtl
}

// State returns the current run state.
func (e *Emulator) State() State {
	return e.state
}

// InstructionCount returns the number of instructions executed.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// AttachChecker installs the lockstep checker. Pass nil to detach.
func (e *Emulator) AttachChecker(c Checker) {
	e.checker = c
	e.unchecked = 0
	e.checkNow = false
}

// FlushChecker steps the attached checker over the instructions executed
// since it last compared.
func (e *Emulator) FlushChecker() error {
	if e.checker == nil || e.unchecked == 0 {
		return nil
	}
	n := e.unchecked
	e.unchecked = 0
	return e.checker.Step(n)
}

// syncChecker brings the checker up to the instruction being executed.
// The machine state must not have been changed by that instruction yet.
func (e *Emulator) syncChecker() {
	if err := e.FlushChecker(); err != nil {
		panic(err)
	}
}

// skipChecker makes the checker copy the state after the current
// instruction instead of executing it.
func (e *Emulator) skipChecker() {
	if e.checker == nil {
		return
	}
	e.syncChecker()
	e.checker.SkipRefStep()
	e.checkNow = true
}

// Reset clears the architectural state, reloads the built-in image and
// sets the PC to the reset vector.
func (e *Emulator) Reset() {
	*e.regFile = RegFile{}
	e.regFile.PC = e.resetVector
	e.regFile.CSR.Mstatus = ResetMstatus

	e.state = StateStop
	e.exitCode = 0
	e.haltPC = 0
	e.err = nil
	e.instructionCount = 0
	e.unchecked = 0
	e.checkNow = false
	e.tracer = newTracer(e.traceCfg, e.logger)

	if err := e.LoadImage(e.resetVector, DefaultImage()); err != nil {
		_ = level.Warn(e.logger).Log("msg", "no room for the built-in image", "err", err)
	}
}

// LoadImage copies data into guest RAM at addr.
func (e *Emulator) LoadImage(addr uint32, data []byte) error {
	if err := e.bus.LoadImage(addr, data); err != nil {
		return err
	}
	if e.fetchCache != nil {
		e.fetchCache.Reset()
	}
	return nil
}

// LoadProgram loads data at entry and points the PC at it.
func (e *Emulator) LoadProgram(entry uint32, data []byte) error {
	if err := e.LoadImage(entry, data); err != nil {
		return err
	}
	e.regFile.PC = entry
	return nil
}

// Quit stops the machine on behalf of the user.
func (e *Emulator) Quit() {
	e.state = StateQuit
}

// Step executes a single instruction.
func (e *Emulator) Step() (result StepResult) {
	switch e.state {
	case StateEnd, StateAbort, StateQuit:
		return e.result()
	}

	if e.maxInstructions > 0 && e.instructionCount >= e.maxInstructions {
		if err := e.FlushChecker(); err != nil {
			e.abort(err)
			return e.result()
		}
		e.state = StateStop
		return StepResult{State: StateStop, Err: ErrMaxInstructions}
	}

	defer func() {
		e.executing = false
		if r := recover(); r != nil {
			e.abort(panicError(r))
			result = e.result()
		}
	}()

	e.state = StateRunning
	e.checkNow = false
	e.executing = true
	pc := e.regFile.PC

	inst := e.fetch(pc)
	e.tracer.inst(pc, inst.Raw)

	e.rtl.Begin(pc)
	e.execTable[inst.Op](e, inst)
	e.regFile.X[0] = 0
	e.regFile.PC = e.rtl.DNPC()
	e.instructionCount++

	if e.checker != nil && e.state == StateRunning {
		e.unchecked++
		if e.checkNow || e.unchecked >= e.checkBatch {
			if err := e.FlushChecker(); err != nil {
				e.abort(err)
			}
		}
	}

	return e.result()
}

// Run executes instructions until the machine leaves the running state or
// ctx is done. The context is checked between batches of instructions.
func (e *Emulator) Run(ctx context.Context) StepResult {
	for {
		for i := 0; i < e.batchSize; i++ {
			result := e.Step()
			if result.State != StateRunning {
				e.report(result)
				return result
			}
		}

		select {
		case <-ctx.Done():
			if err := e.FlushChecker(); err != nil {
				e.abort(err)
				result := e.result()
				e.report(result)
				return result
			}
			e.state = StateStop
			return StepResult{State: StateStop, Err: ctx.Err()}
		default:
		}
	}
}

func (e *Emulator) fetch(pc uint32) *insts.Instruction {
	if e.fetchCache != nil {
		if inst, ok := e.fetchCache.Lookup(pc); ok {
			return inst
		}
	}

	word, err := e.bus.Read(pc, 4)
	if err != nil {
		panic(fmt.Errorf("fetch: %w", err))
	}
	inst := e.decoder.Decode(word)

	if e.fetchCache != nil && e.bus.InRAM(pc) {
		e.fetchCache.Insert(pc, inst)
	}
	return inst
}

func (e *Emulator) onMemWrite(addr uint32, width int) {
	e.tracer.memWrite(addr, width)
	if e.fetchCache != nil {
		e.fetchCache.Invalidate(addr, width)
	}
}

func (e *Emulator) onDeviceAccess(m *device.Mapping, addr uint32, width int, isWrite bool) {
	e.tracer.device(m, addr, width, isWrite)
	if e.executing {
		e.skipChecker()
	}
}

func (e *Emulator) halt(ret uint32) {
	e.syncChecker()
	e.state = StateEnd
	e.exitCode = int64(int32(ret))
	e.haltPC = e.rtl.PC()
}

func (e *Emulator) abort(err error) {
	e.state = StateAbort
	e.err = err
	e.haltPC = e.regFile.PC

	_ = level.Error(e.logger).Log(
		"msg", "machine aborted",
		"pc", fmt.Sprintf("0x%08x", e.regFile.PC),
		"err", err,
	)
	for _, line := range e.RecentInstructions() {
		_, _ = fmt.Fprintln(e.stderr, line)
	}
	e.DisplayRegs(e.stderr)
}

func (e *Emulator) result() StepResult {
	return StepResult{
		State:    e.state,
		ExitCode: e.exitCode,
		HaltPC:   e.haltPC,
		Err:      e.err,
	}
}

func (e *Emulator) report(result StepResult) {
	switch result.State {
	case StateEnd:
		msg := "HIT GOOD TRAP"
		if !result.GoodTrap() {
			msg = "HIT BAD TRAP"
		}
		_ = level.Info(e.logger).Log(
			"msg", msg,
			"pc", fmt.Sprintf("0x%08x", result.HaltPC),
			"code", result.ExitCode,
			"insts", e.instructionCount,
		)
	case StateAbort:
		_ = level.Error(e.logger).Log(
			"msg", "ABORT",
			"pc", fmt.Sprintf("0x%08x", result.HaltPC),
			"insts", e.instructionCount,
		)
	}
}

func panicError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}

// DefaultImage returns the built-in program run when no image is given:
//
//	auipc t0, 0
//	sb    zero, 16(t0)
//	lbu   a0, 16(t0)
//	ebreak
//	.word 0xdeadbeef
func DefaultImage() []byte {
	words := []uint32{
		0x00000297,
		0x00028823,
		0x0102c503,
		0x00100073,
		0xdeadbeef,
	}
	img := make([]byte, 4*len(words))
	for i, w := range words {
		img[4*i] = byte(w)
		img[4*i+1] = byte(w >> 8)
		img[4*i+2] = byte(w >> 16)
		img[4*i+3] = byte(w >> 24)
	}
	return img
}
