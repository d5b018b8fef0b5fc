package main

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"

	"github.com/sarchlab/rvemu/config"
	"github.com/sarchlab/rvemu/device"
	"github.com/sarchlab/rvemu/difftest"
	"github.com/sarchlab/rvemu/emu"
	"github.com/sarchlab/rvemu/icache"
	"github.com/sarchlab/rvemu/loader"
)

// machineIO is the host side of the guest's console.
type machineIO struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// machine is one configured emulator with its devices, fetch cache and
// optional lockstep checker.
type machine struct {
	cfg    *config.Config
	logger log.Logger
	stdio  machineIO

	bus    *device.Bus
	cache  *icache.Cache
	emu    *emu.Emulator
	tester *difftest.Tester

	closers []func() error
}

func newMachine(cfg *config.Config, logger log.Logger, stdio machineIO) (*machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if stdio.stdin == nil {
		stdio.stdin = bytes.NewReader(nil)
	}
	if stdio.stdout == nil {
		stdio.stdout = io.Discard
	}
	if stdio.stderr == nil {
		stdio.stderr = io.Discard
	}

	m := &machine{
		cfg:    cfg,
		logger: logger,
		stdio:  stdio,
		bus:    device.NewBus(cfg.MemBase, cfg.MemSize),
	}
	if err := m.attachDevices(); err != nil {
		return nil, err
	}
	m.bus.Seal()

	opts := []emu.EmulatorOption{
		emu.WithBus(m.bus),
		emu.WithLogger(logger),
		emu.WithStdin(stdio.stdin),
		emu.WithStdout(stdio.stdout),
		emu.WithStderr(stdio.stderr),
		emu.WithResetVector(cfg.ResetVector),
		emu.WithMaxInstructions(cfg.MaxInstructions),
		emu.WithBatchSize(cfg.BatchSize),
		emu.WithTrace(cfg.TraceOptions()),
		emu.WithCheckBatch(cfg.Difftest.Batch),
	}
	if cfg.HaltOnEbreak {
		opts = append(opts, emu.WithHaltOnEbreak())
	}
	if cfg.HostSyscalls {
		opts = append(opts, emu.WithHostSyscalls())
	}
	if cfg.ICache.Enabled {
		m.cache = icache.New(cfg.CacheConfig())
		opts = append(opts, emu.WithFetchCache(m.cache))
	}

	m.emu = emu.NewEmulator(opts...)
	return m, nil
}

func (m *machine) attachDevices() error {
	d := m.cfg.Devices

	var errs *multierror.Error
	if d.Serial.Enabled {
		errs = multierror.Append(errs, device.NewSerial(m.stdio.stdout).Attach(m.bus, d.Serial.Addr))
	}
	if d.RTC.Enabled {
		errs = multierror.Append(errs, device.NewRTC().Attach(m.bus, d.RTC.Addr))
	}
	if d.Keyboard.Enabled {
		errs = multierror.Append(errs, device.NewKeyboard().Attach(m.bus, d.Keyboard.Addr))
	}
	if d.VGA.Enabled {
		vga := device.NewVGA(d.VGAWidth, d.VGAHeight, nil)
		errs = multierror.Append(errs, vga.Attach(m.bus, d.VGA.Addr, d.FBAddr))
	}
	if d.Audio.Enabled {
		audio := device.NewAudio(d.SBufSize, nil, device.WithAudioLogger(m.logger))
		errs = multierror.Append(errs, audio.Attach(m.bus, d.Audio.Addr, d.SBufAddr))
	}

	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("attach devices: %w", err)
	}
	return nil
}

// load places prog in guest RAM and points the PC at its entry. A nil
// prog keeps the built-in image.
func (m *machine) load(prog *loader.Program) error {
	if prog == nil {
		return nil
	}

	addr, image, err := prog.Flat()
	if err != nil {
		return err
	}
	if err := m.emu.LoadProgram(addr, image); err != nil {
		return fmt.Errorf("load image: %w", err)
	}
	m.emu.RegFile().PC = prog.Entry

	_ = level.Info(m.logger).Log(
		"msg", "image loaded",
		"addr", fmt.Sprintf("0x%08x", addr),
		"size", len(image),
		"entry", fmt.Sprintf("0x%08x", prog.Entry),
	)
	return nil
}

// enableDifftest starts the reference core from the current machine
// state. Only the RAM window is copied; devices are not modeled by the
// reference.
func (m *machine) enableDifftest(report io.Writer) error {
	ref, closeRef, err := newRefCore(m.cfg.Difftest.Ref, m.cfg.MemBase, m.cfg.MemSize)
	if err != nil {
		return err
	}
	if closeRef != nil {
		m.closers = append(m.closers, closeRef)
	}

	m.tester = difftest.New(ref, m.emu,
		difftest.WithLogger(m.logger),
		difftest.WithReport(report),
	)
	if err := m.tester.Init(m.bus.RAM().Backing, m.cfg.MemBase); err != nil {
		return err
	}
	m.emu.AttachChecker(m.tester)

	_ = level.Debug(m.logger).Log("msg", "difftest batch", "insts", m.cfg.Difftest.Batch)
	return nil
}

func (m *machine) run(ctx context.Context) emu.StepResult {
	result := m.emu.Run(ctx)

	if m.cache != nil {
		stats := m.cache.Stats()
		_ = level.Debug(m.logger).Log(
			"msg", "fetch cache",
			"lookups", stats.Lookups,
			"hits", stats.Hits,
			"misses", stats.Misses,
			"evictions", stats.Evictions,
			"invalidations", stats.Invalidations,
		)
	}
	return result
}

func (m *machine) close() error {
	var errs *multierror.Error
	for _, c := range m.closers {
		errs = multierror.Append(errs, c())
	}
	m.closers = nil
	return errs.ErrorOrNil()
}
