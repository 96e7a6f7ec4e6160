package relay

// emission is one Num's worth of envelopes: the Peer fan-out and its
// Receipt share a num, so a single emission can address many recipients
// with per-recipient envelopes.
type emission struct {
	num       int
	envelopes map[string]*Envelope // recipient client ID -> envelope
}

// Buffer retains the hub's most recent emissions so reconnecting
// clients can be caught up. It is touched only by the hub's dispatcher
// goroutine and therefore needs no locking.
type Buffer struct {
	capacity  int
	emissions []emission // ascending, contiguous nums
}

// NewBuffer creates a buffer retaining up to capacity emissions.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{capacity: capacity}
}

// Record adds one emission. The hub records every emission it makes, so
// nums in the buffer stay contiguous and the oldest retained num is a
// faithful window edge.
func (b *Buffer) Record(num int, envelopes map[string]*Envelope) {
	b.emissions = append(b.emissions, emission{num: num, envelopes: envelopes})
	if len(b.emissions) > b.capacity {
		b.emissions = b.emissions[len(b.emissions)-b.capacity:]
	}
}

// CanResume reports whether a client that last saw lastNum can be
// caught up from the buffer. lastNum < 0 means the client is not asking
// for replay at all. nextNum is the num the hub will assign next;
// claims about envelopes the hub never emitted are as unserviceable as
// an aged-out window.
func (b *Buffer) CanResume(lastNum, nextNum int) bool {
	if lastNum < 0 {
		return true
	}
	if lastNum >= nextNum {
		return false
	}
	earliest := nextNum
	if len(b.emissions) > 0 {
		earliest = b.emissions[0].num
	}
	return lastNum >= earliest-1
}

// ReplayFor returns, in num order, every retained envelope addressed to
// clientID with a num greater than lastNum.
func (b *Buffer) ReplayFor(clientID string, lastNum int) []*Envelope {
	var out []*Envelope
	for _, e := range b.emissions {
		if e.num <= lastNum {
			continue
		}
		if env, ok := e.envelopes[clientID]; ok {
			out = append(out, env)
		}
	}
	return out
}
