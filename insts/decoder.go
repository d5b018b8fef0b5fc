// Package insts provides RV32IM instruction definitions and decoding.
package insts

// Op represents a RISC-V opcode.
type Op uint16

// RV32IM opcodes.
const (
	OpInvalid Op = iota

	// U-type
	OpLUI
	OpAUIPC

	// J-type / jumps
	OpJAL
	OpJALR

	// B-type
	OpBEQ
	OpBNE
	OpBLT
	OpBGE
	OpBLTU
	OpBGEU

	// Loads
	OpLB
	OpLH
	OpLW
	OpLBU
	OpLHU

	// Stores
	OpSB
	OpSH
	OpSW

	// Immediate arithmetic
	OpADDI
	OpSLTI
	OpSLTIU
	OpXORI
	OpORI
	OpANDI
	OpSLLI
	OpSRLI
	OpSRAI

	// Register arithmetic
	OpADD
	OpSUB
	OpSLL
	OpSLT
	OpSLTU
	OpXOR
	OpSRL
	OpSRA
	OpOR
	OpAND

	// M extension
	OpMUL
	OpMULH
	OpMULHSU
	OpMULHU
	OpDIV
	OpDIVU
	OpREM
	OpREMU

	// Memory ordering
	OpFENCE

	// SYSTEM
	OpECALL
	OpEBREAK
	OpMRET
	OpCSRRW
	OpCSRRS
	OpCSRRC
	OpCSRRWI
	OpCSRRSI
	OpCSRRCI

	numOps
)

var opNames = [numOps]string{
	OpInvalid: "invalid",
	OpLUI:     "lui", OpAUIPC: "auipc",
	OpJAL: "jal", OpJALR: "jalr",
	OpBEQ: "beq", OpBNE: "bne", OpBLT: "blt", OpBGE: "bge", OpBLTU: "bltu", OpBGEU: "bgeu",
	OpLB: "lb", OpLH: "lh", OpLW: "lw", OpLBU: "lbu", OpLHU: "lhu",
	OpSB: "sb", OpSH: "sh", OpSW: "sw",
	OpADDI: "addi", OpSLTI: "slti", OpSLTIU: "sltiu", OpXORI: "xori", OpORI: "ori",
	OpANDI: "andi", OpSLLI: "slli", OpSRLI: "srli", OpSRAI: "srai",
	OpADD: "add", OpSUB: "sub", OpSLL: "sll", OpSLT: "slt", OpSLTU: "sltu",
	OpXOR: "xor", OpSRL: "srl", OpSRA: "sra", OpOR: "or", OpAND: "and",
	OpMUL: "mul", OpMULH: "mulh", OpMULHSU: "mulhsu", OpMULHU: "mulhu",
	OpDIV: "div", OpDIVU: "divu", OpREM: "rem", OpREMU: "remu",
	OpFENCE: "fence",
	OpECALL: "ecall", OpEBREAK: "ebreak", OpMRET: "mret",
	OpCSRRW: "csrrw", OpCSRRS: "csrrs", OpCSRRC: "csrrc",
	OpCSRRWI: "csrrwi", OpCSRRSI: "csrrsi", OpCSRRCI: "csrrci",
}

// String returns the assembler mnemonic of the opcode.
func (op Op) String() string {
	if op >= numOps {
		return "invalid"
	}
	return opNames[op]
}

// AllOps returns every opcode the decoder can produce, OpInvalid included.
func AllOps() []Op {
	ops := make([]Op, 0, numOps)
	for op := OpInvalid; op < numOps; op++ {
		ops = append(ops, op)
	}
	return ops
}

// Format represents an instruction encoding layout.
type Format uint8

// Instruction formats.
const (
	FormatUnknown Format = iota
	FormatR              // register-register
	FormatI              // immediate
	FormatS              // store
	FormatB              // branch
	FormatU              // upper immediate
	FormatJ              // jump
)

// Major opcodes, bits [6:0].
const (
	opcodeLoad   = 0b0000011
	opcodeFence  = 0b0001111
	opcodeOpImm  = 0b0010011
	opcodeAUIPC  = 0b0010111
	opcodeStore  = 0b0100011
	opcodeOp     = 0b0110011
	opcodeLUI    = 0b0110111
	opcodeBranch = 0b1100011
	opcodeJALR   = 0b1100111
	opcodeJAL    = 0b1101111
	opcodeSystem = 0b1110011
)

// Encodings of the SYSTEM instructions without operands.
const (
	wordECALL  = 0x00000073
	wordEBREAK = 0x00100073
	wordMRET   = 0x30200073
)

// Instruction represents a decoded RV32 instruction.
type Instruction struct {
	Op     Op     // Operation code
	Format Format // Encoding layout

	Rd     uint8 // Destination register
	Rs1    uint8 // First source register (uimm for CSRR*I)
	Rs2    uint8 // Second source register
	Funct3 uint8
	Funct7 uint8

	// Imm is the immediate, already sign/zero-extended according to
	// its layout. U-type immediates carry their low 12 zero bits.
	Imm uint32

	// CSR is the 12-bit CSR address of Zicsr instructions.
	CSR uint16

	// Raw is the undecoded instruction word.
	Raw uint32
}

// Decoder decodes RISC-V machine code into instructions.
type Decoder struct {
	formats [128]Format
}

// NewDecoder creates a new RV32IM instruction decoder.
func NewDecoder() *Decoder {
	d := &Decoder{}

	d.formats[opcodeOp] = FormatR
	d.formats[opcodeOpImm] = FormatI
	d.formats[opcodeLoad] = FormatI
	d.formats[opcodeJALR] = FormatI
	d.formats[opcodeSystem] = FormatI
	d.formats[opcodeFence] = FormatI
	d.formats[opcodeStore] = FormatS
	d.formats[opcodeBranch] = FormatB
	d.formats[opcodeLUI] = FormatU
	d.formats[opcodeAUIPC] = FormatU
	d.formats[opcodeJAL] = FormatJ

	return d
}

// FormatOf returns the encoding layout of word, or FormatUnknown.
func (d *Decoder) FormatOf(word uint32) Format {
	if word&0b11 != 0b11 {
		// Compressed encodings are not supported.
		return FormatUnknown
	}
	return d.formats[word&0x7F]
}

// Decode decodes a 32-bit RISC-V instruction word.
// Unknown encodings yield an instruction with Op == OpInvalid.
func (d *Decoder) Decode(word uint32) *Instruction {
	inst := &Instruction{Op: OpInvalid, Format: FormatUnknown, Raw: word}

	inst.Format = d.FormatOf(word)
	if inst.Format == FormatUnknown {
		return inst
	}

	d.extractFields(word, inst)

	switch word & 0x7F {
	case opcodeLUI:
		inst.Op = OpLUI
	case opcodeAUIPC:
		inst.Op = OpAUIPC
	case opcodeJAL:
		inst.Op = OpJAL
	case opcodeJALR:
		if inst.Funct3 == 0 {
			inst.Op = OpJALR
		}
	case opcodeBranch:
		d.decodeBranch(inst)
	case opcodeLoad:
		d.decodeLoad(inst)
	case opcodeStore:
		d.decodeStore(inst)
	case opcodeOpImm:
		d.decodeOpImm(inst)
	case opcodeOp:
		d.decodeOp(inst)
	case opcodeFence:
		if inst.Funct3 == 0 || inst.Funct3 == 1 {
			inst.Op = OpFENCE
		}
	case opcodeSystem:
		d.decodeSystem(word, inst)
	}

	return inst
}

// extractFields fills the register indices and the layout-specific
// immediate.
//
//	R: funct7 | rs2 | rs1 | funct3 | rd | opcode
//	I: imm[11:0] | rs1 | funct3 | rd | opcode
//	S: imm[11:5] | rs2 | rs1 | funct3 | imm[4:0] | opcode
//	B: imm[12|10:5] | rs2 | rs1 | funct3 | imm[4:1|11] | opcode
//	U: imm[31:12] | rd | opcode
//	J: imm[20|10:1|11|19:12] | rd | opcode
func (d *Decoder) extractFields(word uint32, inst *Instruction) {
	inst.Rd = uint8(bits(word, 11, 7))
	inst.Funct3 = uint8(bits(word, 14, 12))
	inst.Rs1 = uint8(bits(word, 19, 15))
	inst.Rs2 = uint8(bits(word, 24, 20))
	inst.Funct7 = uint8(bits(word, 31, 25))

	switch inst.Format {
	case FormatR:
		// No immediate.
	case FormatI:
		inst.Imm = SignExtend(bits(word, 31, 20), 11)
		inst.CSR = uint16(bits(word, 31, 20))
	case FormatS:
		imm := bits(word, 31, 25)<<5 | bits(word, 11, 7)
		inst.Imm = SignExtend(imm, 11)
	case FormatB:
		imm := bits(word, 31, 31)<<12 |
			bits(word, 7, 7)<<11 |
			bits(word, 30, 25)<<5 |
			bits(word, 11, 8)<<1
		inst.Imm = SignExtend(imm, 12)
	case FormatU:
		inst.Imm = word & 0xFFFFF000
	case FormatJ:
		imm := bits(word, 31, 31)<<20 |
			bits(word, 19, 12)<<12 |
			bits(word, 20, 20)<<11 |
			bits(word, 30, 21)<<1
		inst.Imm = SignExtend(imm, 20)
	}
}

func (d *Decoder) decodeBranch(inst *Instruction) {
	switch inst.Funct3 {
	case 0b000:
		inst.Op = OpBEQ
	case 0b001:
		inst.Op = OpBNE
	case 0b100:
		inst.Op = OpBLT
	case 0b101:
		inst.Op = OpBGE
	case 0b110:
		inst.Op = OpBLTU
	case 0b111:
		inst.Op = OpBGEU
	}
}

func (d *Decoder) decodeLoad(inst *Instruction) {
	switch inst.Funct3 {
	case 0b000:
		inst.Op = OpLB
	case 0b001:
		inst.Op = OpLH
	case 0b010:
		inst.Op = OpLW
	case 0b100:
		inst.Op = OpLBU
	case 0b101:
		inst.Op = OpLHU
	}
}

func (d *Decoder) decodeStore(inst *Instruction) {
	switch inst.Funct3 {
	case 0b000:
		inst.Op = OpSB
	case 0b001:
		inst.Op = OpSH
	case 0b010:
		inst.Op = OpSW
	}
}

// decodeOpImm decodes OP-IMM. Shift immediates use imm[4:0] as shamt and
// imm[11:5] as funct7; on RV32 a set imm[5] is reserved.
func (d *Decoder) decodeOpImm(inst *Instruction) {
	switch inst.Funct3 {
	case 0b000:
		inst.Op = OpADDI
	case 0b010:
		inst.Op = OpSLTI
	case 0b011:
		inst.Op = OpSLTIU
	case 0b100:
		inst.Op = OpXORI
	case 0b110:
		inst.Op = OpORI
	case 0b111:
		inst.Op = OpANDI
	case 0b001:
		if inst.Funct7 == 0 {
			inst.Op = OpSLLI
		}
	case 0b101:
		switch inst.Funct7 {
		case 0b0000000:
			inst.Op = OpSRLI
		case 0b0100000:
			inst.Op = OpSRAI
		}
	}
}

var opTable = map[uint8][8]Op{
	0b0000000: {OpADD, OpSLL, OpSLT, OpSLTU, OpXOR, OpSRL, OpOR, OpAND},
	0b0100000: {OpSUB, OpInvalid, OpInvalid, OpInvalid, OpInvalid, OpSRA, OpInvalid, OpInvalid},
	0b0000001: {OpMUL, OpMULH, OpMULHSU, OpMULHU, OpDIV, OpDIVU, OpREM, OpREMU},
}

func (d *Decoder) decodeOp(inst *Instruction) {
	row, ok := opTable[inst.Funct7]
	if !ok {
		return
	}
	inst.Op = row[inst.Funct3]
}

func (d *Decoder) decodeSystem(word uint32, inst *Instruction) {
	switch inst.Funct3 {
	case 0b000:
		switch word {
		case wordECALL:
			inst.Op = OpECALL
		case wordEBREAK:
			inst.Op = OpEBREAK
		case wordMRET:
			inst.Op = OpMRET
		}
	case 0b001:
		inst.Op = OpCSRRW
	case 0b010:
		inst.Op = OpCSRRS
	case 0b011:
		inst.Op = OpCSRRC
	case 0b101:
		inst.Op = OpCSRRWI
	case 0b110:
		inst.Op = OpCSRRSI
	case 0b111:
		inst.Op = OpCSRRCI
	}
}
