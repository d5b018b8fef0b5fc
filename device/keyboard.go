package device

import "sync"

const (
	keyboardSize = 4

	// KeyDown marks a key press in a key event code.
	KeyDown uint32 = 0x8000
)

// Keyboard queues key events pushed by the host. Reading the data register
// dequeues one event, or reads zero when the queue is empty.
type Keyboard struct {
	mu      sync.Mutex
	queue   []uint32
	mapping *Mapping
}

// NewKeyboard creates an empty keyboard.
func NewKeyboard() *Keyboard {
	return &Keyboard{}
}

// Attach registers the keyboard at base.
func (k *Keyboard) Attach(bus *Bus, base uint32) error {
	m, err := bus.Register("keyboard", base, keyboardSize, k)
	if err != nil {
		return err
	}
	k.mapping = m
	return nil
}

// Push enqueues a key event. It is safe to call from host goroutines.
func (k *Keyboard) Push(code uint32) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.queue = append(k.queue, code)
}

// Access implements Handler.
func (k *Keyboard) Access(offset uint32, width int, isWrite bool) {
	if isWrite || offset != 0 {
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	var code uint32
	if len(k.queue) > 0 {
		code = k.queue[0]
		k.queue = k.queue[1:]
	}
	k.mapping.SetWord(0, code)
}
