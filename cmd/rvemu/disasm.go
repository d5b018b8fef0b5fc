package main

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sarchlab/rvemu/device"
	"github.com/sarchlab/rvemu/emu"
	"github.com/sarchlab/rvemu/insts"
	"github.com/sarchlab/rvemu/loader"
)

func newDisasmCmd() *cobra.Command {
	var base uint32

	cmd := &cobra.Command{
		Use:   "disasm [image]",
		Short: "Print a disassembly listing of the executable segments of an image",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := loader.LoadRaw(emu.DefaultImage(), base)
			if len(args) == 1 {
				prog, err = loader.Load(args[0], base)
			}
			if err != nil {
				return err
			}
			return disassemble(cmd.OutOrStdout(), prog)
		},
	}
	cmd.Flags().Uint32Var(&base, "base", device.DefaultMemBase, "load address of raw binaries")

	return cmd
}

func disassemble(w io.Writer, prog *loader.Program) error {
	for _, seg := range prog.Segments {
		if seg.Flags&loader.SegmentFlagExecute == 0 {
			continue
		}

		if _, err := fmt.Fprintf(w, "segment 0x%08x (%d bytes):\n", seg.Addr, len(seg.Data)); err != nil {
			return err
		}
		for off := 0; off+4 <= len(seg.Data); off += 4 {
			word := binary.LittleEndian.Uint32(seg.Data[off:])
			addr := seg.Addr + uint32(off)

			marker := "  "
			if addr == prog.Entry {
				marker = "> "
			}
			if _, err := fmt.Fprintf(w, "%s0x%08x: %08x  %s\n",
				marker, addr, word, insts.Disassemble(word)); err != nil {
				return err
			}
		}
	}
	return nil
}
