package emu_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvemu/emu"
)

var _ = Describe("Accessors", func() {
	var e *emu.Emulator

	BeforeEach(func() {
		e = emu.NewEmulator(emu.WithBus(newTestBus()))
	})

	Describe("RegByName", func() {
		It("should resolve ABI, numeric and dollar names", func() {
			e.RegFile().X[10] = 42

			for _, name := range []string{"a0", "$a0", "x10", "$x10"} {
				Expect(e.RegByName(name)).To(Equal(uint32(42)), name)
			}
		})

		It("should resolve the zero register aliases", func() {
			for _, name := range []string{"$0", "zero", "x0"} {
				Expect(e.RegByName(name)).To(Equal(uint32(0)), name)
			}
		})

		It("should resolve pc and CSRs", func() {
			e.RegFile().CSR.Mepc = 0x80000010

			Expect(e.RegByName("pc")).To(Equal(testMemBase))
			Expect(e.RegByName("mepc")).To(Equal(uint32(0x80000010)))
			Expect(e.RegByName("mstatus")).To(Equal(emu.ResetMstatus))
		})

		It("should reject unknown names", func() {
			_, err := e.RegByName("x32")
			Expect(err).To(MatchError(emu.ErrUnknownRegister))

			_, err = e.RegByName("satp")
			Expect(err).To(MatchError(emu.ErrUnknownRegister))
		})

		It("should reject non-canonical register numbers", func() {
			for _, name := range []string{"x+1", "x01", "x00", "x-0", "x", "x 1", "$x+10"} {
				_, err := e.RegByName(name)
				Expect(err).To(MatchError(emu.ErrUnknownRegister), name)
				Expect(e.SetRegByName(name, 1)).To(MatchError(emu.ErrUnknownRegister), name)
			}
			Expect(e.RegFile().X[1]).To(BeZero())
			Expect(e.RegFile().X[10]).To(BeZero())
		})
	})

	Describe("SetRegByName", func() {
		It("should write registers", func() {
			Expect(e.SetRegByName("sp", 0x8000F000)).To(Succeed())
			Expect(e.SetRegByName("mtvec", 0x80000101)).To(Succeed())

			Expect(e.RegFile().X[2]).To(Equal(uint32(0x8000F000)))
			Expect(e.RegFile().CSR.Mtvec).To(Equal(uint32(0x80000101)))
		})

		It("should discard writes to x0", func() {
			Expect(e.SetRegByName("zero", 7)).To(Succeed())
			Expect(e.RegFile().X[0]).To(Equal(uint32(0)))
		})
	})

	Describe("RegName", func() {
		It("should name registers by ABI", func() {
			Expect(emu.RegName(0)).To(Equal("$0"))
			Expect(emu.RegName(10)).To(Equal("a0"))
			Expect(emu.RegName(31)).To(Equal("t6"))
			Expect(emu.RegName(32)).To(BeEmpty())
		})
	})

	Describe("DisplayRegs", func() {
		It("should print hex, unsigned and signed values", func() {
			e.RegFile().X[5] = 0xFFFFFFFE
			var buf bytes.Buffer

			e.DisplayRegs(&buf)

			Expect(buf.String()).To(MatchRegexp(`t0\s+0xfffffffe\s+4294967294\s+-2`))
			Expect(buf.String()).To(MatchRegexp(`mstatus\s+0x00001800`))
			Expect(buf.String()).To(ContainSubstring("pc"))
		})
	})

	Describe("Memory", func() {
		It("should read consecutive words", func() {
			words, err := e.ReadWords(testMemBase, 2)

			Expect(err).NotTo(HaveOccurred())
			Expect(words).To(Equal([]uint32{0x00000297, 0x00028823}))
		})

		It("should stop at the first unmapped word", func() {
			words, err := e.ReadWords(testMemBase+testMemSize-4, 2)

			Expect(err).To(HaveOccurred())
			Expect(words).To(HaveLen(1))
		})

		It("should read sub-word values", func() {
			Expect(e.ReadMem(testMemBase, 1)).To(Equal(uint32(0x97)))
		})
	})

	Describe("RecentInstructions", func() {
		It("should keep the last sixteen instructions", func() {
			words := make([]uint32, 20)
			for i := range words {
				words[i] = addi(1, 1, 1)
			}
			e = newLoadedEmulator(words)

			stepN(e, 20)

			lines := e.RecentInstructions()
			Expect(lines).To(HaveLen(16))
			Expect(lines[0]).To(ContainSubstring("0x80000010"))
			Expect(lines[15]).To(HavePrefix("--> 0x8000004c"))
			Expect(lines[15]).To(ContainSubstring("addi"))
		})
	})
})
