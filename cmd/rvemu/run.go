package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/sarchlab/rvemu/config"
	"github.com/sarchlab/rvemu/emu"
	"github.com/sarchlab/rvemu/loader"
)

type runFlags struct {
	configPath   string
	diff         bool
	diffRef      string
	diffBatch    uint64
	maxInsts     uint64
	itrace       bool
	hostSyscalls bool
	batch        int
}

func newRunCmd(root *rootOptions) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run [image]",
		Short: "Run a guest image, or the built-in image when none is given",
		Long: `Run loads an RV32 ELF executable or a raw binary and executes it until
the guest halts. Raw binaries are placed at the reset vector.

The process exits with the guest's exit status.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImage(cmd, root, flags, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.configPath, "config", "", "machine configuration file (JSON, or YAML by extension)")
	f.BoolVar(&flags.diff, "diff", false, "check every instruction against a reference core")
	f.StringVar(&flags.diffRef, "diff-ref", config.RefGo, "reference core: go or unicorn")
	f.Uint64Var(&flags.diffBatch, "diff-batch", 1, "instructions between reference comparisons")
	f.Uint64Var(&flags.maxInsts, "max-insts", 0, "stop after this many instructions (0 = no limit)")
	f.BoolVar(&flags.itrace, "itrace", false, "log every executed instruction at debug level")
	f.BoolVar(&flags.hostSyscalls, "host-syscalls", false, "service ecall on the host")
	f.IntVar(&flags.batch, "batch", 0, "instructions between cancellation checks")

	return cmd
}

// applyFlags overrides cfg with every flag set on the command line.
func (r *runFlags) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("diff") {
		cfg.Difftest.Enabled = r.diff
	}
	if changed("diff-ref") {
		cfg.Difftest.Ref = r.diffRef
	}
	if changed("diff-batch") {
		cfg.Difftest.Batch = r.diffBatch
	}
	if changed("max-insts") {
		cfg.MaxInstructions = r.maxInsts
	}
	if changed("itrace") {
		cfg.Trace.Inst = r.itrace
	}
	if changed("host-syscalls") {
		cfg.HostSyscalls = r.hostSyscalls
	}
	if changed("batch") {
		cfg.BatchSize = r.batch
	}
}

func runImage(cmd *cobra.Command, root *rootOptions, flags *runFlags, args []string) error {
	logger, err := newLogger(cmd.ErrOrStderr(), root.logLevel)
	if err != nil {
		return err
	}

	cfg := config.DefaultConfig()
	if flags.configPath != "" {
		if cfg, err = config.LoadConfig(flags.configPath); err != nil {
			return err
		}
	}
	flags.applyFlags(cmd, cfg)

	m, err := newMachine(cfg, logger, machineIO{
		stdin:  cmd.InOrStdin(),
		stdout: cmd.OutOrStdout(),
		stderr: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = m.close() }()

	var prog *loader.Program
	if len(args) == 1 {
		if prog, err = loader.Load(args[0], cfg.ResetVector); err != nil {
			return err
		}
	} else {
		_ = level.Info(logger).Log("msg", "no image given, running the built-in image")
	}
	if err := m.load(prog); err != nil {
		return err
	}

	if cfg.Difftest.Enabled {
		if err := m.enableDifftest(cmd.ErrOrStderr()); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	result := m.run(ctx)
	if result.State == emu.StateStop {
		_ = level.Info(logger).Log("msg", "machine stopped", "reason", result.Err,
			"insts", m.emu.InstructionCount())
	}
	return exitStatus(result)
}

// exitStatus maps the final machine state to the command result.
func exitStatus(result emu.StepResult) error {
	switch result.State {
	case emu.StateEnd:
		if result.ExitCode != 0 {
			return &exitError{code: int(result.ExitCode & 0xFF)}
		}
		return nil
	case emu.StateAbort:
		return fmt.Errorf("machine aborted at pc 0x%08x: %w", result.HaltPC, result.Err)
	case emu.StateStop:
		if errors.Is(result.Err, context.Canceled) || errors.Is(result.Err, emu.ErrMaxInstructions) {
			return nil
		}
		return result.Err
	}
	return nil
}
