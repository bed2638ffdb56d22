package mqtt

import "log"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a fixed-capacity FIFO holding messages while disconnected.
// When full, the oldest message is dropped.
// Not safe for concurrent use; the caller must synchronize.
type ringBuffer struct {
	buf     []bufferedMsg
	start   int // oldest element
	count   int
	dropped int // total dropped since creation
	warned  bool
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{buf: make([]bufferedMsg, capacity)}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	if r.count == len(r.buf) {
		r.drop()
	}
	r.buf[(r.start+r.count)%len(r.buf)] = msg
	r.count++
}

// requeue puts msgs back in front of whatever is buffered, keeping their
// order. Messages that no longer fit are dropped from the old end.
func (r *ringBuffer) requeue(msgs []bufferedMsg) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if r.count == len(r.buf) {
			// Full: msgs[i] is older than everything kept, so it goes.
			r.dropped++
			continue
		}
		r.start = (r.start - 1 + len(r.buf)) % len(r.buf)
		r.buf[r.start] = msgs[i]
		r.count++
	}
}

func (r *ringBuffer) drop() {
	if !r.warned {
		log.Printf("mqtt: buffer full (%d messages), dropping oldest", len(r.buf))
		r.warned = true
	}
	r.buf[r.start] = bufferedMsg{}
	r.start = (r.start + 1) % len(r.buf)
	r.count--
	r.dropped++
}

// drainAll returns the buffered messages oldest first and empties the buffer.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}
	out := make([]bufferedMsg, r.count)
	for i := range out {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	clear(r.buf)
	r.start, r.count = 0, 0
	r.warned = false
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
