package emu

import (
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/sarchlab/rvemu/device"
	"github.com/sarchlab/rvemu/insts"
)

// TraceConfig selects the trace categories emitted at debug level.
type TraceConfig struct {
	Inst      bool // every executed instruction
	Mem       bool // every RAM store
	Exception bool // every trap entry
	Device    bool // every device access
}

// iringSize is the number of recent instructions kept for abort reports.
const iringSize = 16

type iringEntry struct {
	pc   uint32
	word uint32
}

type tracer struct {
	cfg    TraceConfig
	logger log.Logger

	ring  [iringSize]iringEntry
	next  int
	count int
}

func newTracer(cfg TraceConfig, logger log.Logger) *tracer {
	return &tracer{cfg: cfg, logger: logger}
}

func (t *tracer) inst(pc, word uint32) {
	t.ring[t.next] = iringEntry{pc: pc, word: word}
	t.next = (t.next + 1) % iringSize
	if t.count < iringSize {
		t.count++
	}

	if t.cfg.Inst {
		_ = level.Debug(t.logger).Log(
			"trace", "inst",
			"pc", fmt.Sprintf("0x%08x", pc),
			"inst", fmt.Sprintf("%08x", word),
			"asm", insts.Disassemble(word),
		)
	}
}

func (t *tracer) memWrite(addr uint32, width int) {
	if !t.cfg.Mem {
		return
	}
	_ = level.Debug(t.logger).Log(
		"trace", "mem",
		"addr", fmt.Sprintf("0x%08x", addr),
		"width", width,
	)
}

func (t *tracer) exception(cause, epc, target uint32) {
	if !t.cfg.Exception {
		return
	}
	_ = level.Debug(t.logger).Log(
		"trace", "exception",
		"cause", cause,
		"event", ClassifyCause(cause),
		"epc", fmt.Sprintf("0x%08x", epc),
		"target", fmt.Sprintf("0x%08x", target),
	)
}

func (t *tracer) device(m *device.Mapping, addr uint32, width int, isWrite bool) {
	if !t.cfg.Device {
		return
	}
	dir := "read"
	if isWrite {
		dir = "write"
	}
	_ = level.Debug(t.logger).Log(
		"trace", "device",
		"device", m.Name,
		"dir", dir,
		"addr", fmt.Sprintf("0x%08x", addr),
		"width", width,
	)
}

// recent returns the buffered instructions, oldest first.
func (t *tracer) recent() []iringEntry {
	out := make([]iringEntry, 0, t.count)
	start := (t.next - t.count + iringSize) % iringSize
	for i := 0; i < t.count; i++ {
		out = append(out, t.ring[(start+i)%iringSize])
	}
	return out
}

// RecentInstructions renders the last instructions executed, oldest
// first. The most recent one is marked with an arrow.
func (e *Emulator) RecentInstructions() []string {
	entries := e.tracer.recent()
	lines := make([]string, len(entries))
	for i, ent := range entries {
		marker := "    "
		if i == len(entries)-1 {
			marker = "--> "
		}
		lines[i] = fmt.Sprintf("%s0x%08x: %08x  %s",
			marker, ent.pc, ent.word, insts.Disassemble(ent.word))
	}
	return lines
}
