package device

const vgaCtlSize = 8

// FrameSink receives completed frames. Pixels are 32-bit 0x00RRGGBB
// little-endian values, row major.
type FrameSink interface {
	Frame(width, height int, pixels []byte)
}

// VGA is a linear framebuffer with a control window. The control word at
// offset 0 reads width<<16|height; writing a non-zero value to the sync
// register at offset 4 flushes the framebuffer to the sink.
type VGA struct {
	width, height int
	sink          FrameSink

	ctl *Mapping
	fb  *Mapping
}

// NewVGA creates a width x height display. sink may be nil.
func NewVGA(width, height int, sink FrameSink) *VGA {
	return &VGA{width: width, height: height, sink: sink}
}

// Attach registers the control window at ctlBase and the framebuffer at
// fbBase.
func (v *VGA) Attach(bus *Bus, ctlBase, fbBase uint32) error {
	ctl, err := bus.Register("vgactl", ctlBase, vgaCtlSize, v)
	if err != nil {
		return err
	}
	fb, err := bus.Register("vmem", fbBase, uint32(v.width*v.height*4), nil)
	if err != nil {
		return err
	}

	v.ctl = ctl
	v.fb = fb
	v.ctl.SetWord(0, v.sizeWord())

	return nil
}

func (v *VGA) sizeWord() uint32 {
	return uint32(v.width)<<16 | uint32(v.height)
}

// Access implements Handler.
func (v *VGA) Access(offset uint32, width int, isWrite bool) {
	if !isWrite {
		if offset == 0 {
			v.ctl.SetWord(0, v.sizeWord())
		}
		return
	}
	if offset != 4 {
		return
	}
	if v.ctl.Word(4) == 0 {
		return
	}

	if v.sink != nil {
		frame := make([]byte, len(v.fb.Backing))
		copy(frame, v.fb.Backing)
		v.sink.Frame(v.width, v.height, frame)
	}
	v.ctl.SetWord(4, 0)
}
