package insts

// SignExtend replicates bit pos of value into every higher bit.
// pos is 0-based and must be below 32.
func SignExtend(value uint32, pos uint) uint32 {
	if pos > 31 {
		panic("insts: sign extension position out of range")
	}
	shift := 31 - pos
	return uint32(int32(value<<shift) >> shift)
}

// ZeroExtend clears every bit above pos.
func ZeroExtend(value uint32, pos uint) uint32 {
	if pos > 31 {
		panic("insts: zero extension position out of range")
	}
	shift := 31 - pos
	return (value << shift) >> shift
}

// bits extracts word[hi:lo].
func bits(word uint32, hi, lo uint) uint32 {
	return (word >> lo) & ((1 << (hi - lo + 1)) - 1)
}
