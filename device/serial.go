package device

import "io"

// Standard device addresses.
const (
	SerialAddr   uint32 = 0xa00003f8
	RTCAddr      uint32 = 0xa0000048
	KeyboardAddr uint32 = 0xa0000060
	VGACtlAddr   uint32 = 0xa0000100
	AudioCtlAddr uint32 = 0xa0000200
	FBAddr       uint32 = 0xa1000000
	SBufAddr     uint32 = 0xa1200000
)

const serialSize = 8

// Serial is a transmit-only UART. A byte stored at offset 0 is written to
// the output.
type Serial struct {
	out     io.Writer
	mapping *Mapping
}

// NewSerial creates a serial port writing to out.
func NewSerial(out io.Writer) *Serial {
	return &Serial{out: out}
}

// Attach registers the port at base.
func (s *Serial) Attach(bus *Bus, base uint32) error {
	m, err := bus.Register("serial", base, serialSize, s)
	if err != nil {
		return err
	}
	s.mapping = m
	return nil
}

// Access implements Handler.
func (s *Serial) Access(offset uint32, width int, isWrite bool) {
	if !isWrite || offset != 0 || s.out == nil {
		return
	}
	_, _ = s.out.Write(s.mapping.Backing[:1])
}
