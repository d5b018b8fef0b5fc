package refcore_test

import (
	"encoding/binary"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvemu/device"
	"github.com/sarchlab/rvemu/difftest/refcore"
	"github.com/sarchlab/rvemu/emu"
)

const base uint32 = 0x80000000

func program(words ...uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}

var _ = Describe("Core", func() {
	var core *refcore.Core

	BeforeEach(func() {
		core = refcore.New(base, 0x1000)
		Expect(core.Init()).To(Succeed())
	})

	load := func(words ...uint32) {
		Expect(core.MemCopy(base, program(words...))).To(Succeed())
	}

	It("should start at the memory base with the reset mstatus", func() {
		s, err := core.GetRegs()

		Expect(err).NotTo(HaveOccurred())
		Expect(s.PC).To(Equal(base))
		Expect(s.CSR.Mstatus).To(Equal(emu.ResetMstatus))
	})

	It("should run a store and load round trip", func() {
		load(
			0x00000297, // auipc t0, 0
			0xfff00313, // addi  t1, x0, -1
			0x1062a023, // sw    t1, 256(t0)
			0x1002c383, // lbu   t2, 256(t0)
			0x10029e03, // lh    t3, 256(t0)
		)

		Expect(core.Exec(5)).To(Succeed())

		s, _ := core.GetRegs()
		Expect(s.GPR[7]).To(Equal(uint32(0xFF)))
		Expect(s.GPR[28]).To(Equal(uint32(0xFFFFFFFF)))
		Expect(s.PC).To(Equal(base + 20))
	})

	It("should follow the M extension corner cases", func() {
		load(
			0x00500093, // addi x1, x0, 5
			0x0200c133, // div  x2, x1, x0
			0x0200e1b3, // rem  x3, x1, x0
		)

		Expect(core.Exec(3)).To(Succeed())

		s, _ := core.GetRegs()
		Expect(s.GPR[2]).To(Equal(uint32(0xFFFFFFFF)))
		Expect(s.GPR[3]).To(Equal(uint32(5)))
	})

	It("should trap on ecall with a7 as the cause", func() {
		load(
			0x00700893, // addi a7, x0, 7
			0x00000073, // ecall
		)
		s, _ := core.GetRegs()
		s.CSR.Mtvec = base + 0x100
		Expect(core.SetRegs(s)).To(Succeed())

		Expect(core.Exec(2)).To(Succeed())

		s, _ = core.GetRegs()
		Expect(s.PC).To(Equal(base + 0x100))
		Expect(s.CSR.Mepc).To(Equal(base + 4))
		Expect(s.CSR.Mcause).To(Equal(uint32(7)))
		Expect(s.CSR.Mstatus & emu.MstatusMPP).To(Equal(emu.MstatusMPP))
	})

	It("should trap on an illegal instruction", func() {
		load(0x00000000)

		Expect(core.Exec(1)).To(Succeed())

		s, _ := core.GetRegs()
		Expect(s.CSR.Mcause).To(Equal(uint32(emu.CauseIllegalInstruction)))
		Expect(s.CSR.Mepc).To(Equal(base))
	})

	DescribeTable("MISC-MEM encodings, matching the emulator",
		func(funct3 uint32, illegal bool) {
			word := 0x0ff0000f | funct3<<12
			load(word)

			dut := emu.NewEmulator(emu.WithBus(device.NewBus(base, 0x1000)), emu.WithStderr(io.Discard))
			Expect(dut.LoadProgram(base, program(word))).To(Succeed())
			dut.RegFile().CSR.Mtvec = base + 0x100
			s, _ := core.GetRegs()
			s.CSR.Mtvec = base + 0x100
			Expect(core.SetRegs(s)).To(Succeed())

			Expect(core.Exec(1)).To(Succeed())
			Expect(dut.Step().Err).NotTo(HaveOccurred())

			s, _ = core.GetRegs()
			Expect(s.PC).To(Equal(dut.RegFile().PC))
			Expect(s.CSR.Mcause).To(Equal(dut.RegFile().CSR.Mcause))
			if illegal {
				Expect(s.PC).To(Equal(base + 0x100))
				Expect(s.CSR.Mcause).To(Equal(uint32(emu.CauseIllegalInstruction)))
			} else {
				Expect(s.PC).To(Equal(base + 4))
			}
		},
		Entry("fence", uint32(0), false),
		Entry("fence.i", uint32(1), false),
		Entry("reserved 2", uint32(2), true),
		Entry("reserved 3", uint32(3), true),
		Entry("reserved 4", uint32(4), true),
		Entry("reserved 5", uint32(5), true),
		Entry("reserved 6", uint32(6), true),
		Entry("reserved 7", uint32(7), true),
	)

	It("should take an injected trap at the current PC", func() {
		Expect(core.RaiseIntr(11)).To(Succeed())

		s, _ := core.GetRegs()
		Expect(s.CSR.Mepc).To(Equal(base))
		Expect(s.CSR.Mcause).To(Equal(uint32(11)))
	})

	It("should keep x0 at zero after SetRegs", func() {
		s, _ := core.GetRegs()
		s.GPR[0] = 42
		Expect(core.SetRegs(s)).To(Succeed())

		s, _ = core.GetRegs()
		Expect(s.GPR[0]).To(BeZero())
	})

	It("should fail on an access outside its memory", func() {
		load(0x0000a083) // lw x1, 0(x1)

		Expect(core.Exec(1)).To(MatchError(refcore.ErrUnmapped))
	})

	It("should fail on an unknown CSR", func() {
		load(0x7c0020f3) // csrrs x1, 0x7c0, x0

		Expect(core.Exec(1)).To(MatchError(refcore.ErrIllegal))
	})

	It("should reject a copy outside its memory", func() {
		Expect(core.MemCopy(base+0xFFE, []byte{1, 2, 3, 4})).To(MatchError(refcore.ErrUnmapped))
	})
})
