package device

import "time"

const rtcSize = 8

// RTC exposes the microseconds since boot as a 64-bit counter. Reading the
// high word at offset 4 latches the whole counter, so guests read the
// high half first.
type RTC struct {
	now     func() time.Time
	boot    time.Time
	mapping *Mapping
}

// NewRTC creates a clock that starts counting now.
func NewRTC() *RTC {
	return NewRTCWithClock(time.Now)
}

// NewRTCWithClock creates a clock driven by now.
func NewRTCWithClock(now func() time.Time) *RTC {
	return &RTC{now: now, boot: now()}
}

// Attach registers the clock at base.
func (r *RTC) Attach(bus *Bus, base uint32) error {
	m, err := bus.Register("rtc", base, rtcSize, r)
	if err != nil {
		return err
	}
	r.mapping = m
	return nil
}

// Access implements Handler.
func (r *RTC) Access(offset uint32, width int, isWrite bool) {
	if isWrite || offset != 4 {
		return
	}
	us := uint64(r.now().Sub(r.boot).Microseconds())
	r.mapping.SetWord(0, uint32(us))
	r.mapping.SetWord(4, uint32(us>>32))
}
