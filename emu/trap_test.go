package emu_test

import (
	"context"
	"errors"
	"fmt"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvemu/device"
	"github.com/sarchlab/rvemu/emu"
)

type recordingChecker struct {
	steps  int
	skips  int
	intrs  []uint32
	events []string
	stepFn func() error
}

func (c *recordingChecker) Step(n uint64) error {
	c.steps += int(n)
	c.events = append(c.events, fmt.Sprintf("step %d", n))
	if c.stepFn != nil {
		return c.stepFn()
	}
	return nil
}

func (c *recordingChecker) SkipRefStep() {
	c.skips++
	c.events = append(c.events, "skip")
}

func (c *recordingChecker) RaiseIntr(cause uint32) error {
	c.intrs = append(c.intrs, cause)
	c.events = append(c.events, fmt.Sprintf("intr %d", cause))
	return nil
}

var _ = Describe("Traps", func() {
	var e *emu.Emulator

	BeforeEach(func() {
		e = emu.NewEmulator(emu.WithBus(newTestBus()))
	})

	Describe("RaiseTrap", func() {
		It("should jump to the base in direct mode", func() {
			e.RegFile().CSR.Mtvec = 0x80001000
			for cause := uint32(0); cause < 20; cause++ {
				Expect(e.RaiseTrap(cause, testMemBase)).To(Equal(uint32(0x80001000)))
			}
		})

		It("should index by cause in vectored mode", func() {
			e.RegFile().CSR.Mtvec = 0x80001000 | 1
			for cause := uint32(0); cause < 20; cause++ {
				Expect(e.RaiseTrap(cause, testMemBase)).To(Equal(0x80001000 + 4*cause))
			}
		})

		It("should ignore the reserved mode bit for the base", func() {
			e.RegFile().CSR.Mtvec = 0x80001000 | 2
			Expect(e.RaiseTrap(5, testMemBase)).To(Equal(uint32(0x80001000)))
		})

		It("should record the cause and epc", func() {
			e.RaiseTrap(11, 0x80000040)

			Expect(e.RegFile().CSR.Mepc).To(Equal(uint32(0x80000040)))
			Expect(e.RegFile().CSR.Mcause).To(Equal(uint32(11)))
		})

		It("should stack the interrupt enable", func() {
			e.RegFile().CSR.Mstatus = emu.MstatusMIE | emu.MstatusMPV | emu.MstatusGVA

			e.RaiseTrap(8, testMemBase)

			mstatus := e.RegFile().CSR.Mstatus
			Expect(mstatus & emu.MstatusMIE).To(BeZero())
			Expect(mstatus & emu.MstatusMPIE).NotTo(BeZero())
			Expect(mstatus & emu.MstatusMPP).To(Equal(emu.MstatusMPP))
			Expect(mstatus & (emu.MstatusMPV | emu.MstatusGVA)).To(BeZero())
		})

		It("should clear MPIE when interrupts were disabled", func() {
			e.RegFile().CSR.Mstatus = emu.MstatusMPIE

			e.RaiseTrap(8, testMemBase)

			Expect(e.RegFile().CSR.Mstatus & emu.MstatusMPIE).To(BeZero())
		})

		It("should notify the checker", func() {
			checker := &recordingChecker{}
			e.AttachChecker(checker)

			e.RaiseTrap(9, testMemBase)

			Expect(checker.intrs).To(Equal([]uint32{9}))
			Expect(checker.skips).To(Equal(1))
		})
	})

	Describe("ecall and mret", func() {
		// Handler at base+0x100 returns to mepc+4.
		var handler = []uint32{
			csrrs(6, 0x341, 0),
			addi(6, 6, 4),
			csrrw(0, 0x341, 6),
			instMRET,
		}

		BeforeEach(func() {
			words := make([]uint32, 0x40+len(handler))
			words[0] = addi(17, 0, 4)
			words[1] = instECALL
			words[2] = addi(1, 0, 1)
			copy(words[0x40:], handler)
			e = newLoadedEmulator(words)
			e.RegFile().CSR.Mtvec = testMemBase + 0x100
			e.RegFile().CSR.Mstatus = emu.MstatusMIE
		})

		It("should trap with a7 as cause", func() {
			stepN(e, 2)

			csr := e.RegFile().CSR
			Expect(csr.Mepc).To(Equal(testMemBase + 4))
			Expect(csr.Mcause).To(Equal(uint32(4)))
			Expect(e.RegFile().PC).To(Equal(testMemBase + 0x100))
			Expect(emu.ClassifyCause(csr.Mcause)).To(Equal(emu.EventSyscall))
		})

		It("should swap the interrupt enables back on mret", func() {
			stepN(e, 2)
			Expect(e.RegFile().CSR.Mstatus & emu.MstatusMIE).To(BeZero())

			stepN(e, 4)

			mstatus := e.RegFile().CSR.Mstatus
			Expect(mstatus & emu.MstatusMIE).NotTo(BeZero())
			Expect(mstatus & emu.MstatusMPIE).NotTo(BeZero())
			Expect(mstatus & emu.MstatusMPP).To(BeZero())
			Expect(e.RegFile().PC).To(Equal(testMemBase + 8))

			e.Step()
			Expect(e.RegFile().ReadReg(1)).To(Equal(uint32(1)))
		})

		It("should take the reference through the same trap", func() {
			checker := &recordingChecker{}
			e.AttachChecker(checker)

			stepN(e, 2)

			Expect(checker.intrs).To(Equal([]uint32{4}))
			Expect(checker.skips).To(Equal(1))
			Expect(checker.steps).To(Equal(2))
		})
	})

	Describe("ebreak", func() {
		It("should raise a breakpoint trap by default", func() {
			e = newLoadedEmulator([]uint32{instEBREAK})
			e.RegFile().CSR.Mtvec = testMemBase + 0x80

			result := e.Step()

			Expect(result.State).To(Equal(emu.StateRunning))
			Expect(e.RegFile().CSR.Mcause).To(Equal(emu.CauseBreakpoint))
			Expect(e.RegFile().PC).To(Equal(testMemBase + 0x80))
		})
	})

	Describe("CSR instructions", func() {
		It("should swap with csrrw and read with csrrs", func() {
			e = newLoadedEmulator([]uint32{
				addi(5, 0, 0x7c),
				csrrw(6, 0x305, 5),
				csrrs(7, 0x305, 0),
			})
			e.RegFile().CSR.Mtvec = 0x11

			stepN(e, 3)

			Expect(e.RegFile().ReadReg(6)).To(Equal(uint32(0x11)))
			Expect(e.RegFile().ReadReg(7)).To(Equal(uint32(0x7c)))
			Expect(e.RegFile().CSR.Mtvec).To(Equal(uint32(0x7c)))
		})

		It("should set and clear bits", func() {
			e = newLoadedEmulator([]uint32{
				addi(5, 0, 0x8),
				csrrs(0, 0x300, 5),
				csrrci(6, 0x300, 0x8),
				csrrsi(0, 0x342, 3),
				csrrc(0, 0x342, 5),
			})
			e.RegFile().CSR.Mstatus = 0
			e.RegFile().CSR.Mcause = 0x8

			stepN(e, 2)
			Expect(e.RegFile().CSR.Mstatus).To(Equal(uint32(0x8)))

			e.Step()
			Expect(e.RegFile().ReadReg(6)).To(Equal(uint32(0x8)))
			Expect(e.RegFile().CSR.Mstatus).To(Equal(uint32(0)))

			stepN(e, 2)
			Expect(e.RegFile().CSR.Mcause).To(Equal(uint32(0x3)))
		})

		It("should write an immediate with csrrwi", func() {
			e = newLoadedEmulator([]uint32{csrrwi(0, 0x341, 0x1f)})

			e.Step()

			Expect(e.RegFile().CSR.Mepc).To(Equal(uint32(0x1f)))
		})

		It("should leave a CSR unchanged for a zero source", func() {
			e = newLoadedEmulator([]uint32{
				addi(5, 0, -1),
				csrrs(6, 0x305, 0),
				csrrc(7, 0x305, 0),
				csrrsi(0, 0x305, 0),
				csrrci(0, 0x305, 0),
			})
			e.RegFile().CSR.Mtvec = 0x80000100

			stepN(e, 5)

			Expect(e.RegFile().CSR.Mtvec).To(Equal(uint32(0x80000100)))
			Expect(e.RegFile().ReadReg(6)).To(Equal(uint32(0x80000100)))
			Expect(e.RegFile().ReadReg(7)).To(Equal(uint32(0x80000100)))
		})

		It("should not write a read-only CSR", func() {
			e = newLoadedEmulator([]uint32{
				addi(5, 0, -1),
				csrrs(6, 0xF14, 5),
				csrrc(0, 0xF14, 5),
				csrrw(0, 0xF14, 5),
				csrrsi(0, 0xF14, 0x1f),
			})

			result := stepN(e, 5)

			Expect(result.State).To(Equal(emu.StateRunning))
			Expect(e.RegFile().CSR.Mhartid).To(Equal(uint32(0)))
			Expect(e.RegFile().ReadReg(6)).To(Equal(uint32(0)))
		})

		It("should abort on an unknown CSR", func() {
			e = newLoadedEmulator([]uint32{csrrs(1, 0x7C0, 0)},
				emu.WithStderr(io.Discard))

			result := e.Step()

			Expect(result.State).To(Equal(emu.StateAbort))
			Expect(result.Err).To(MatchError(emu.ErrUnknownCSR))
		})
	})

	Describe("Checker", func() {
		It("should step the checker after every instruction", func() {
			checker := &recordingChecker{}
			e = newLoadedEmulator([]uint32{addi(1, 0, 1), addi(1, 1, 1)})
			e.AttachChecker(checker)

			stepN(e, 2)

			Expect(checker.steps).To(Equal(2))
		})

		It("should abort on a checker error", func() {
			mismatch := errors.New("mismatch")
			checker := &recordingChecker{stepFn: func() error { return mismatch }}
			e = newLoadedEmulator([]uint32{addi(1, 0, 1)}, emu.WithStderr(io.Discard))
			e.AttachChecker(checker)

			result := e.Step()

			Expect(result.State).To(Equal(emu.StateAbort))
			Expect(result.Err).To(MatchError(mismatch))
		})

		Context("in batches", func() {
			It("should step the checker once per batch and flush at the limit", func() {
				words := make([]uint32, 7)
				for i := range words {
					words[i] = addi(1, 1, 1)
				}
				checker := &recordingChecker{}
				e = newLoadedEmulator(words, emu.WithCheckBatch(3), emu.WithMaxInstructions(7))
				e.AttachChecker(checker)

				result := e.Run(context.Background())

				Expect(result.Err).To(MatchError(emu.ErrMaxInstructions))
				Expect(checker.events).To(Equal([]string{"step 3", "step 3", "step 1"}))
			})

			It("should catch up before the reference takes a trap", func() {
				words := make([]uint32, 0x41)
				words[0] = addi(1, 0, 1)
				words[1] = addi(1, 1, 1)
				words[2] = instECALL
				words[0x40] = addi(2, 0, 2)
				checker := &recordingChecker{}
				e = newLoadedEmulator(words, emu.WithCheckBatch(8))
				e.RegFile().CSR.Mtvec = testMemBase + 0x100
				e.AttachChecker(checker)

				stepN(e, 4)

				Expect(checker.events).To(Equal([]string{"step 2", "intr 0", "skip", "step 1"}))
				Expect(e.RegFile().ReadReg(2)).To(Equal(uint32(2)))
			})

			It("should catch up before the machine halts", func() {
				checker := &recordingChecker{}
				e = newLoadedEmulator([]uint32{addi(10, 0, 0), addi(1, 0, 1), instEBREAK},
					emu.WithCheckBatch(8), emu.WithHaltOnEbreak())
				e.AttachChecker(checker)

				result := e.Run(context.Background())

				Expect(result.GoodTrap()).To(BeTrue())
				Expect(checker.events).To(Equal([]string{"step 2"}))
			})

			It("should catch up before a device access and skip it", func() {
				bus := newTestBus()
				Expect(device.NewSerial(io.Discard).Attach(bus, device.SerialAddr)).To(Succeed())
				e = emu.NewEmulator(emu.WithBus(bus), emu.WithCheckBatch(8))
				Expect(e.LoadProgram(testMemBase, program(
					lui(1, device.SerialAddr>>12),
					addi(2, 0, 'A'),
					sb(2, 1, int32(device.SerialAddr&0xFFF)),
					addi(3, 0, 3),
				))).To(Succeed())
				checker := &recordingChecker{}
				e.AttachChecker(checker)

				stepN(e, 4)

				Expect(checker.events).To(Equal([]string{"step 2", "skip", "step 1"}))
				Expect(e.FlushChecker()).To(Succeed())
				Expect(checker.events).To(HaveLen(4))
				Expect(checker.events[3]).To(Equal("step 1"))
			})

			It("should not skip for device reads made between instructions", func() {
				bus := newTestBus()
				Expect(device.NewSerial(io.Discard).Attach(bus, device.SerialAddr)).To(Succeed())
				e = emu.NewEmulator(emu.WithBus(bus), emu.WithCheckBatch(8))
				Expect(e.LoadProgram(testMemBase, program(addi(1, 0, 1)))).To(Succeed())
				checker := &recordingChecker{}
				e.AttachChecker(checker)
				e.Step()

				_, err := e.ReadMem(device.SerialAddr, 1)

				Expect(err).NotTo(HaveOccurred())
				Expect(checker.events).To(BeEmpty())
			})
		})
	})

	Describe("ClassifyCause", func() {
		It("should classify guest causes", func() {
			Expect(emu.ClassifyCause(0)).To(Equal(emu.EventSyscall))
			Expect(emu.ClassifyCause(19)).To(Equal(emu.EventSyscall))
			Expect(emu.ClassifyCause(emu.CauseYield)).To(Equal(emu.EventYield))
			Expect(emu.ClassifyCause(20)).To(Equal(emu.EventError))
		})
	})
})
