package adapter

import "time"

// pacer implements the audio upload throttle: the first budget bytes go
// out unthrottled, everything after is paced to real time so the client
// never outruns the service by more than the initial burst.
type pacer struct {
	bytesPerSecond int
	budgetBytes    int64

	sent     int64
	nextSend time.Time
}

func newPacer(bytesPerSecond int, throttleMs int) *pacer {
	return &pacer{
		bytesPerSecond: bytesPerSecond,
		budgetBytes:    int64(bytesPerSecond) * int64(throttleMs) / 1000,
	}
}

// delay returns how long the caller must wait before sending n more
// bytes, given the current time. Bytes within the initial budget incur
// zero delay.
func (p *pacer) delay(now time.Time, n int) time.Duration {
	if p.sent+int64(n) <= p.budgetBytes {
		p.sent += int64(n)
		p.nextSend = now
		return 0
	}

	if p.nextSend.Before(now) {
		p.nextSend = now
	}
	wait := p.nextSend.Sub(now)
	p.nextSend = p.nextSend.Add(time.Duration(float64(n) / float64(p.bytesPerSecond) * float64(time.Second)))
	p.sent += int64(n)
	return wait
}
