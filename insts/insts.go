// Package insts provides RV32IM instruction definitions and decoding.
//
// This package implements decoding of RISC-V machine code into structured
// instruction representations. It supports the six base encoding layouts:
//   - R-type: register-register arithmetic and the M extension
//   - I-type: immediate arithmetic, loads, JALR, SYSTEM and CSR access
//   - S-type: stores
//   - B-type: conditional branches
//   - U-type: LUI, AUIPC
//   - J-type: JAL
//
// Usage:
//
//	decoder := insts.NewDecoder()
//	inst := decoder.Decode(0xffd08113) // addi sp, ra, -3
//	fmt.Printf("Op: %v, Rd: %d, Rs1: %d, Imm: %d\n", inst.Op, inst.Rd, inst.Rs1, int32(inst.Imm))
package insts
