package device

import (
	"io"
	"runtime"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Audio control registers, one word each.
const (
	audioRegFreq = iota
	audioRegChannels
	audioRegSamples
	audioRegSBufSize
	audioRegInit
	audioRegCount
	audioNumRegs
)

// DefaultSBufSize is the default stream buffer size in bytes.
const DefaultSBufSize uint32 = 0x10000

// AudioSpec is the playback format programmed by the guest.
type AudioSpec struct {
	Freq     int
	Channels int
	Samples  int
}

// AudioSink is the host playback backend. Open is called each time the
// guest initializes the device; the sink then pulls 16-bit signed samples
// from stream on its own goroutine. The stream of an earlier Open returns
// io.EOF once the device is initialized again.
type AudioSink interface {
	Open(spec AudioSpec, stream io.Reader) error
}

// AudioOption configures an Audio.
type AudioOption func(*Audio)

// WithAudioLogger sets the logger that reports sink failures.
func WithAudioLogger(logger log.Logger) AudioOption {
	return func(a *Audio) {
		a.logger = logger
	}
}

// Audio is a sound card with a control window and a stream window. Bytes
// stored into the stream window are queued into a ring buffer that the
// sink drains. A store blocks, spinning, until the ring has room.
type Audio struct {
	sink     AudioSink
	sbufSize uint32
	logger   log.Logger

	stream atomic.Pointer[audioStream]

	ctl  *Mapping
	sbuf *Mapping
}

// NewAudio creates a sound card with a sbufSize-byte stream buffer. A nil
// sink discards every queued byte.
func NewAudio(sbufSize uint32, sink AudioSink, opts ...AudioOption) *Audio {
	if sbufSize < 4 {
		sbufSize = DefaultSBufSize
	}
	a := &Audio{
		sink:     sink,
		sbufSize: sbufSize,
		logger:   log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Attach registers the control window at ctlBase and the stream window at
// sbufBase.
func (a *Audio) Attach(bus *Bus, ctlBase, sbufBase uint32) error {
	ctl, err := bus.Register("audio", ctlBase, audioNumRegs*4, a)
	if err != nil {
		return err
	}
	sbuf, err := bus.Register("audio-sbuf", sbufBase, a.sbufSize, HandlerFunc(a.streamAccess))
	if err != nil {
		return err
	}

	a.ctl = ctl
	a.sbuf = sbuf
	a.ctl.SetWord(audioRegSBufSize*4, a.sbufSize)

	return nil
}

// Access implements Handler for the control window.
func (a *Audio) Access(offset uint32, width int, isWrite bool) {
	reg := offset / 4
	if reg >= audioNumRegs {
		return
	}

	if !isWrite {
		switch reg {
		case audioRegSBufSize:
			a.ctl.SetWord(offset, a.sbufSize)
		case audioRegCount:
			a.ctl.SetWord(offset, a.Queued())
		}
		return
	}

	if reg == audioRegInit && a.ctl.Word(offset) == 1 {
		a.start()
	}
}

// start ends the current stream and opens the sink on a new, empty one.
func (a *Audio) start() {
	if old := a.stream.Swap(nil); old != nil {
		old.closed.Store(true)
	}
	a.ctl.SetWord(audioRegSBufSize*4, a.sbufSize)

	if a.sink == nil {
		return
	}

	spec := AudioSpec{
		Freq:     int(a.ctl.Word(audioRegFreq * 4)),
		Channels: int(a.ctl.Word(audioRegChannels * 4)),
		Samples:  int(a.ctl.Word(audioRegSamples * 4)),
	}
	stream := newAudioStream(a.sbufSize)
	if err := a.sink.Open(spec, stream); err != nil {
		_ = level.Warn(a.logger).Log(
			"msg", "audio sink failed to open",
			"freq", spec.Freq,
			"channels", spec.Channels,
			"samples", spec.Samples,
			"err", err,
		)
		return
	}
	a.stream.Store(stream)
}

// streamAccess queues the bytes just stored into the stream window.
func (a *Audio) streamAccess(offset uint32, width int, isWrite bool) {
	if !isWrite {
		return
	}

	stream := a.stream.Load()
	if stream == nil {
		return
	}

	end := offset + uint32(width)
	if end > a.sbufSize {
		end = a.sbufSize
	}
	stream.push(a.sbuf.Backing[offset:end])
}

// Queued returns the number of bytes waiting in the ring buffer.
func (a *Audio) Queued() uint32 {
	stream := a.stream.Load()
	if stream == nil {
		return 0
	}
	return uint32(stream.queued())
}

// audioStream is the ring buffer of one device initialization. Only the
// machine advances head and only the sink advances tail.
type audioStream struct {
	ring   []byte
	head   atomic.Uint64 // bytes queued so far
	tail   atomic.Uint64 // bytes consumed so far
	closed atomic.Bool
}

func newAudioStream(size uint32) *audioStream {
	return &audioStream{ring: make([]byte, size)}
}

func (s *audioStream) queued() uint64 {
	return s.head.Load() - s.tail.Load()
}

func (s *audioStream) push(data []byte) {
	size := uint64(len(s.ring))
	n := uint64(len(data))
	for size-s.queued() < n {
		runtime.Gosched()
	}

	head := s.head.Load()
	for i, b := range data {
		s.ring[(head+uint64(i))%size] = b
	}
	s.head.Add(n)
}

// Read drains queued bytes into p and pads the remainder with silence.
// It never blocks and always fills p until the stream is closed.
func (s *audioStream) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, io.EOF
	}

	size := uint64(len(s.ring))
	tail := s.tail.Load()
	avail := s.head.Load() - tail

	n := uint64(len(p))
	if avail < n {
		n = avail
	}
	for i := uint64(0); i < n; i++ {
		p[i] = s.ring[(tail+i)%size]
	}
	s.tail.Add(n)

	for i := n; i < uint64(len(p)); i++ {
		p[i] = 0
	}
	return len(p), nil
}
