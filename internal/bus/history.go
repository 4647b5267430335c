package bus

// ring is a fixed-capacity FIFO that retains the most recent events.
// Not safe for concurrent use — caller must synchronize.
type ring struct {
	buf      []Event
	capacity int
	head     int // next write position
	count    int
}

func newRing(capacity int) *ring {
	return &ring{
		buf:      make([]Event, capacity),
		capacity: capacity,
	}
}

func (r *ring) push(event Event) {
	r.buf[r.head] = event
	r.head = (r.head + 1) % r.capacity
	if r.count < r.capacity {
		r.count++
	}
}

// items returns the retained events, oldest first.
func (r *ring) items() []Event {
	if r.count == 0 {
		return nil
	}

	result := make([]Event, r.count)
	// Oldest item is at (head - count) mod capacity
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		result[i] = r.buf[(start+i)%r.capacity]
	}
	return result
}

func (r *ring) len() int {
	return r.count
}
