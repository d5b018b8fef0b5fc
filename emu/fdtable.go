package emu

import (
	"os"
	"sync"
)

// FileDescriptor represents an open guest file descriptor.
type FileDescriptor struct {
	HostFile *os.File // Host file handle (nil for the standard streams)
	Path     string   // Guest path
	Flags    int      // Host open flags
}

// FDTable maps guest file descriptors to host files. Descriptors 0-2 are
// the standard streams and are served by the syscall handler directly.
type FDTable struct {
	fds    map[uint32]*FileDescriptor
	nextFD uint32
	mu     sync.Mutex
}

// NewFDTable creates a table with the standard streams open.
func NewFDTable() *FDTable {
	return &FDTable{
		fds: map[uint32]*FileDescriptor{
			0: {Path: "stdin"},
			1: {Path: "stdout"},
			2: {Path: "stderr"},
		},
		nextFD: 3,
	}
}

// Open opens a host file and returns a new guest descriptor.
func (t *FDTable) Open(path string, flags int, mode os.FileMode) (uint32, error) {
	hostFile, err := os.OpenFile(path, flags, mode)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fd := t.nextFD
	t.nextFD++
	t.fds[fd] = &FileDescriptor{HostFile: hostFile, Path: path, Flags: flags}

	return fd, nil
}

// Close releases fd. The standard streams are only marked closed.
func (t *FDTable) Close(fd uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.fds[fd]
	if !ok {
		return os.ErrInvalid
	}
	delete(t.fds, fd)

	if entry.HostFile != nil {
		return entry.HostFile.Close()
	}
	return nil
}

// Get returns the entry for an open descriptor.
func (t *FDTable) Get(fd uint32) (*FileDescriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.fds[fd]
	return entry, ok
}

// IsOpen reports whether fd is open.
func (t *FDTable) IsOpen(fd uint32) bool {
	_, ok := t.Get(fd)
	return ok
}

func (t *FDTable) hostFile(fd uint32) (*os.File, error) {
	entry, ok := t.Get(fd)
	if !ok || entry.HostFile == nil {
		return nil, os.ErrInvalid
	}
	return entry.HostFile, nil
}

// Read reads from a host-backed descriptor.
func (t *FDTable) Read(fd uint32, buf []byte) (int, error) {
	f, err := t.hostFile(fd)
	if err != nil {
		return 0, err
	}
	return f.Read(buf)
}

// Write writes to a host-backed descriptor.
func (t *FDTable) Write(fd uint32, buf []byte) (int, error) {
	f, err := t.hostFile(fd)
	if err != nil {
		return 0, err
	}
	return f.Write(buf)
}

// Seek sets the file position of a host-backed descriptor.
func (t *FDTable) Seek(fd uint32, offset int64, whence int) (int64, error) {
	f, err := t.hostFile(fd)
	if err != nil {
		return 0, err
	}
	return f.Seek(offset, whence)
}
