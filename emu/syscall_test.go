package emu_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/rvemu/device"
	"github.com/sarchlab/rvemu/emu"
)

var _ = Describe("Syscall Handler", func() {
	var (
		regFile *emu.RegFile
		bus     *device.Bus
		stdout  *bytes.Buffer
		stderr  *bytes.Buffer
		handler *emu.DefaultSyscallHandler
	)

	const bufAddr = testMemBase + 0x1000

	BeforeEach(func() {
		regFile = &emu.RegFile{}
		bus = newTestBus()
		stdout = new(bytes.Buffer)
		stderr = new(bytes.Buffer)
		handler = emu.NewDefaultSyscallHandler(regFile, bus, stdout, stderr)
	})

	call := func(num uint32, args ...uint32) emu.SyscallResult {
		regFile.WriteReg(emu.RegA7, num)
		for i, a := range args {
			regFile.WriteReg(emu.RegA0+uint8(i), a)
		}
		return handler.Handle()
	}

	putString := func(addr uint32, s string) {
		Expect(bus.LoadImage(addr, append([]byte(s), 0))).To(Succeed())
	}

	Describe("Unknown syscall", func() {
		It("should return ENOSYS", func() {
			result := call(15)

			Expect(result.Exited).To(BeFalse())
			Expect(int32(regFile.ReadReg(emu.RegA0))).To(Equal(int32(-emu.ENOSYS)))
		})
	})

	Describe("exit", func() {
		It("should exit with a0", func() {
			result := call(emu.SyscallExit, 0xFFFFFFFF)

			Expect(result.Exited).To(BeTrue())
			Expect(result.ExitCode).To(Equal(int64(-1)))
		})
	})

	Describe("write", func() {
		It("should write guest memory to stdout and stderr", func() {
			putString(bufAddr, "hello")

			call(emu.SyscallWrite, 1, bufAddr, 5)
			Expect(stdout.String()).To(Equal("hello"))
			Expect(regFile.ReadReg(emu.RegA0)).To(Equal(uint32(5)))

			call(emu.SyscallWrite, 2, bufAddr, 4)
			Expect(stderr.String()).To(Equal("hell"))
		})

		It("should return EBADF for an unknown descriptor", func() {
			call(emu.SyscallWrite, 42, bufAddr, 5)

			Expect(int32(regFile.ReadReg(emu.RegA0))).To(Equal(int32(-emu.EBADF)))
		})

		It("should return EFAULT for an unmapped buffer", func() {
			call(emu.SyscallWrite, 1, 0x10, 5)

			Expect(int32(regFile.ReadReg(emu.RegA0))).To(Equal(int32(-emu.EFAULT)))
		})
	})

	Describe("read", func() {
		It("should return 0 without stdin", func() {
			call(emu.SyscallRead, 0, bufAddr, 8)

			Expect(regFile.ReadReg(emu.RegA0)).To(Equal(uint32(0)))
		})

		It("should copy stdin into guest memory", func() {
			handler.SetStdin(strings.NewReader("abc"))

			call(emu.SyscallRead, 0, bufAddr, 8)

			Expect(regFile.ReadReg(emu.RegA0)).To(Equal(uint32(3)))
			Expect(bus.Read(bufAddr, 4)).To(Equal(uint32(0x00636261)))
		})
	})

	Describe("Files", func() {
		var path string

		BeforeEach(func() {
			path = filepath.Join(GinkgoT().TempDir(), "data.txt")
			Expect(os.WriteFile(path, []byte("0123456789"), 0o644)).To(Succeed())
			putString(testMemBase+0x2000, path)
		})

		It("should open, seek, read and close", func() {
			call(emu.SyscallOpen, testMemBase+0x2000, 0, 0)
			fd := regFile.ReadReg(emu.RegA0)
			Expect(fd).To(Equal(uint32(3)))
			Expect(handler.FDTable().IsOpen(fd)).To(BeTrue())

			call(emu.SyscallLseek, fd, 4, 0)
			Expect(regFile.ReadReg(emu.RegA0)).To(Equal(uint32(4)))

			call(emu.SyscallRead, fd, bufAddr, 3)
			Expect(regFile.ReadReg(emu.RegA0)).To(Equal(uint32(3)))
			Expect(bus.Read(bufAddr, 2)).To(Equal(uint32('4' | '5'<<8)))

			call(emu.SyscallClose, fd)
			Expect(regFile.ReadReg(emu.RegA0)).To(Equal(uint32(0)))
			Expect(handler.FDTable().IsOpen(fd)).To(BeFalse())
		})

		It("should create and write a file", func() {
			out := filepath.Join(GinkgoT().TempDir(), "out.txt")
			putString(testMemBase+0x3000, out)
			putString(bufAddr, "xyz")

			call(emu.SyscallOpen, testMemBase+0x3000, 0x1|0x200|0x400, 0o644)
			fd := regFile.ReadReg(emu.RegA0)
			call(emu.SyscallWrite, fd, bufAddr, 3)
			call(emu.SyscallClose, fd)

			Expect(os.ReadFile(out)).To(Equal([]byte("xyz")))
		})

		It("should fail to open a missing file", func() {
			putString(testMemBase+0x3000, "/nonexistent/file")

			call(emu.SyscallOpen, testMemBase+0x3000, 0, 0)

			Expect(int32(regFile.ReadReg(emu.RegA0))).To(Equal(int32(-emu.ENOENT)))
		})

		It("should reject closing an unknown descriptor", func() {
			call(emu.SyscallClose, 99)

			Expect(int32(regFile.ReadReg(emu.RegA0))).To(Equal(int32(-emu.EBADF)))
		})
	})

	Describe("gettimeofday", func() {
		It("should fill a timeval", func() {
			handler.SetClock(func() time.Time { return time.Unix(1700000000, 250000000) })

			call(emu.SyscallGettimeofday, bufAddr, 0)

			Expect(regFile.ReadReg(emu.RegA0)).To(Equal(uint32(0)))
			Expect(bus.Read(bufAddr, 4)).To(Equal(uint32(1700000000)))
			Expect(bus.Read(bufAddr+4, 4)).To(Equal(uint32(250000)))
		})
	})

	Describe("Emulator integration", func() {
		It("should service ecall on the host", func() {
			out := new(bytes.Buffer)
			e := newLoadedEmulator([]uint32{
				lui(11, (testMemBase+0x1000)>>12),
				addi(10, 0, 1),
				addi(12, 0, 2),
				addi(17, 0, int32(emu.SyscallWrite)),
				instECALL,
				addi(10, 0, 7),
				addi(17, 0, int32(emu.SyscallExit)),
				instECALL,
			}, emu.WithHostSyscalls(), emu.WithStdout(out))
			Expect(e.LoadImage(testMemBase+0x1000, []byte("ok"))).To(Succeed())

			result := stepN(e, 8)

			Expect(out.String()).To(Equal("ok"))
			Expect(result.State).To(Equal(emu.StateEnd))
			Expect(result.ExitCode).To(Equal(int64(7)))
		})
	})
})
