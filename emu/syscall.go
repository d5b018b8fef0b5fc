package emu

import (
	"io"
	"os"
	"time"

	"github.com/sarchlab/rvemu/device"
)

// Guest system call numbers, passed in a7.
const (
	SyscallExit         uint32 = 0
	SyscallYield        uint32 = 1
	SyscallOpen         uint32 = 2
	SyscallRead         uint32 = 3
	SyscallWrite        uint32 = 4
	SyscallKill         uint32 = 5
	SyscallGetpid       uint32 = 6
	SyscallClose        uint32 = 7
	SyscallLseek        uint32 = 8
	SyscallBrk          uint32 = 9
	SyscallGettimeofday uint32 = 19
)

// Error codes returned negated in a0.
const (
	EBADF  = 9  // Bad file descriptor
	ENOENT = 2  // No such file or directory
	EIO    = 5  // I/O error
	EFAULT = 14 // Bad address
	ENOSYS = 38 // Function not implemented
)

// Guest open(2) flags.
const (
	guestOWronly = 0x1
	guestORdwr   = 0x2
	guestOAppend = 0x8
	guestOCreat  = 0x200
	guestOTrunc  = 0x400
)

// Bounds on guest-supplied lengths.
const (
	maxPathLen = 4096
	maxIOChunk = 1 << 20
)

// SyscallResult represents the result of a syscall execution.
type SyscallResult struct {
	// Exited is true if the syscall caused program termination.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64
}

// SyscallHandler services guest system calls on the host.
type SyscallHandler interface {
	// Handle executes the syscall indicated by the register file state.
	// Calling convention:
	//   - Syscall number in a7
	//   - Arguments in a0-a2
	//   - Return value in a0
	Handle() SyscallResult
}

// DefaultSyscallHandler serves the file, time and exit calls a bare guest
// program needs.
type DefaultSyscallHandler struct {
	regFile *RegFile
	bus     *device.Bus
	fdTable *FDTable
	now     func() time.Time

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// NewDefaultSyscallHandler creates a default syscall handler.
func NewDefaultSyscallHandler(regFile *RegFile, bus *device.Bus, stdout, stderr io.Writer) *DefaultSyscallHandler {
	return &DefaultSyscallHandler{
		regFile: regFile,
		bus:     bus,
		fdTable: NewFDTable(),
		now:     time.Now,
		stdout:  stdout,
		stderr:  stderr,
	}
}

// SetStdin sets the stdin reader for the syscall handler.
func (h *DefaultSyscallHandler) SetStdin(stdin io.Reader) {
	h.stdin = stdin
}

// SetClock replaces the clock used by gettimeofday.
func (h *DefaultSyscallHandler) SetClock(now func() time.Time) {
	h.now = now
}

// FDTable returns the handler's file descriptor table.
func (h *DefaultSyscallHandler) FDTable() *FDTable {
	return h.fdTable
}

// Handle executes the syscall indicated by the register file state.
func (h *DefaultSyscallHandler) Handle() SyscallResult {
	switch h.regFile.ReadReg(RegA7) {
	case SyscallExit:
		return SyscallResult{
			Exited:   true,
			ExitCode: int64(int32(h.regFile.ReadReg(RegA0))),
		}
	case SyscallYield, SyscallBrk:
		h.setResult(0)
	case SyscallGetpid:
		h.setResult(1)
	case SyscallOpen:
		h.handleOpen()
	case SyscallRead:
		h.handleRead()
	case SyscallWrite:
		h.handleWrite()
	case SyscallClose:
		h.handleClose()
	case SyscallLseek:
		h.handleLseek()
	case SyscallGettimeofday:
		h.handleGettimeofday()
	default:
		h.setError(ENOSYS)
	}
	return SyscallResult{}
}

func (h *DefaultSyscallHandler) handleOpen() {
	path, ok := h.readString(h.regFile.ReadReg(RegA0))
	if !ok {
		h.setError(EFAULT)
		return
	}

	fd, err := h.fdTable.Open(path, hostOpenFlags(h.regFile.ReadReg(RegA1)),
		os.FileMode(h.regFile.ReadReg(RegA2)&0o777))
	if err != nil {
		h.setError(ENOENT)
		return
	}
	h.setResult(fd)
}

func (h *DefaultSyscallHandler) handleRead() {
	fd := h.regFile.ReadReg(RegA0)
	bufPtr := h.regFile.ReadReg(RegA1)
	count := min(h.regFile.ReadReg(RegA2), maxIOChunk)

	buf := make([]byte, count)
	var (
		n   int
		err error
	)
	switch {
	case fd == 0 && h.stdin == nil:
		h.setResult(0)
		return
	case fd == 0:
		n, err = h.stdin.Read(buf)
	case fd <= 2:
		h.setError(EBADF)
		return
	default:
		if !h.fdTable.IsOpen(fd) {
			h.setError(EBADF)
			return
		}
		n, err = h.fdTable.Read(fd, buf)
	}
	if err != nil && n == 0 {
		// EOF or error with no bytes read
		h.setResult(0)
		return
	}

	if !h.writeBytes(bufPtr, buf[:n]) {
		h.setError(EFAULT)
		return
	}
	h.setResult(uint32(n))
}

func (h *DefaultSyscallHandler) handleWrite() {
	fd := h.regFile.ReadReg(RegA0)
	bufPtr := h.regFile.ReadReg(RegA1)
	count := min(h.regFile.ReadReg(RegA2), maxIOChunk)

	buf, ok := h.readBytes(bufPtr, count)
	if !ok {
		h.setError(EFAULT)
		return
	}

	var (
		n   int
		err error
	)
	switch fd {
	case 0:
		h.setError(EBADF)
		return
	case 1:
		n, err = h.stdout.Write(buf)
	case 2:
		n, err = h.stderr.Write(buf)
	default:
		if !h.fdTable.IsOpen(fd) {
			h.setError(EBADF)
			return
		}
		n, err = h.fdTable.Write(fd, buf)
	}
	if err != nil {
		h.setError(EIO)
		return
	}
	h.setResult(uint32(n))
}

func (h *DefaultSyscallHandler) handleClose() {
	if err := h.fdTable.Close(h.regFile.ReadReg(RegA0)); err != nil {
		h.setError(EBADF)
		return
	}
	h.setResult(0)
}

func (h *DefaultSyscallHandler) handleLseek() {
	fd := h.regFile.ReadReg(RegA0)
	offset := int64(int32(h.regFile.ReadReg(RegA1)))
	whence := int(h.regFile.ReadReg(RegA2))

	pos, err := h.fdTable.Seek(fd, offset, whence)
	if err != nil {
		h.setError(EBADF)
		return
	}
	h.setResult(uint32(pos))
}

// handleGettimeofday fills a struct timeval of two 32-bit words at a0.
func (h *DefaultSyscallHandler) handleGettimeofday() {
	tv := h.regFile.ReadReg(RegA0)
	now := h.now()

	if tv != 0 {
		if h.bus.Write(tv, 4, uint32(now.Unix())) != nil ||
			h.bus.Write(tv+4, 4, uint32(now.Nanosecond()/1000)) != nil {
			h.setError(EFAULT)
			return
		}
	}
	h.setResult(0)
}

func (h *DefaultSyscallHandler) readString(addr uint32) (string, bool) {
	var buf []byte
	for i := uint32(0); i < maxPathLen; i++ {
		b, err := h.bus.Read(addr+i, 1)
		if err != nil {
			return "", false
		}
		if b == 0 {
			return string(buf), true
		}
		buf = append(buf, byte(b))
	}
	return "", false
}

func (h *DefaultSyscallHandler) readBytes(addr, count uint32) ([]byte, bool) {
	buf := make([]byte, count)
	for i := range buf {
		b, err := h.bus.Read(addr+uint32(i), 1)
		if err != nil {
			return nil, false
		}
		buf[i] = byte(b)
	}
	return buf, true
}

func (h *DefaultSyscallHandler) writeBytes(addr uint32, data []byte) bool {
	for i, b := range data {
		if h.bus.Write(addr+uint32(i), 1, uint32(b)) != nil {
			return false
		}
	}
	return true
}

func (h *DefaultSyscallHandler) setResult(v uint32) {
	h.regFile.WriteReg(RegA0, v)
}

// setError sets a0 to -errno.
func (h *DefaultSyscallHandler) setError(errno int) {
	h.regFile.WriteReg(RegA0, uint32(-int32(errno)))
}

func hostOpenFlags(guest uint32) int {
	flags := os.O_RDONLY
	switch {
	case guest&guestORdwr != 0:
		flags = os.O_RDWR
	case guest&guestOWronly != 0:
		flags = os.O_WRONLY
	}
	if guest&guestOAppend != 0 {
		flags |= os.O_APPEND
	}
	if guest&guestOCreat != 0 {
		flags |= os.O_CREATE
	}
	if guest&guestOTrunc != 0 {
		flags |= os.O_TRUNC
	}
	return flags
}
