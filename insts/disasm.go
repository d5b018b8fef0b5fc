package insts

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/riscv64/riscv64asm"
)

// Disassemble renders word in GNU assembler syntax. RV32 encodings are a
// subset of RV64 for every instruction this package decodes, so the
// riscv64 disassembler is used directly.
func Disassemble(word uint32) string {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], word)

	inst, err := riscv64asm.Decode(buf[:])
	if err != nil {
		return fmt.Sprintf(".word 0x%08x", word)
	}

	return riscv64asm.GNUSyntax(inst)
}
