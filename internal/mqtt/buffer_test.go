package mqtt

import (
	"errors"
	"testing"
)

func msg(i int) bufferedMsg {
	return bufferedMsg{topic: TopicStatus, payload: []byte{byte(i)}}
}

func payloads(msgs []bufferedMsg) []byte {
	out := make([]byte, len(msgs))
	for i, m := range msgs {
		out[i] = m.payload[0]
	}
	return out
}

func TestRingBufferEmptyDrain(t *testing.T) {
	rb := newRingBuffer(10)
	if got := rb.drainAll(); got != nil {
		t.Errorf("expected nil from empty drain, got %d items", len(got))
	}
}

func TestRingBufferPushAndDrain(t *testing.T) {
	rb := newRingBuffer(10)
	for i := 0; i < 5; i++ {
		rb.push(msg(i))
	}

	got := payloads(rb.drainAll())
	if string(got) != string([]byte{0, 1, 2, 3, 4}) {
		t.Errorf("order: got %v", got)
	}
	if rb.drainAll() != nil {
		t.Error("expected empty after drain")
	}
}

func TestRingBufferOverflowDropsOldest(t *testing.T) {
	rb := newRingBuffer(5)
	for i := 0; i < 8; i++ {
		rb.push(msg(i))
	}

	if rb.len() != 5 {
		t.Fatalf("len: got %d, want 5", rb.len())
	}
	if rb.dropped != 3 {
		t.Errorf("dropped: got %d, want 3", rb.dropped)
	}
	got := payloads(rb.drainAll())
	if string(got) != string([]byte{3, 4, 5, 6, 7}) {
		t.Errorf("got %v, want [3 4 5 6 7]", got)
	}
}

func TestRingBufferMultipleCycles(t *testing.T) {
	rb := newRingBuffer(3)
	for cycle := 0; cycle < 4; cycle++ {
		for i := 0; i < 5; i++ {
			rb.push(msg(cycle*10 + i))
		}
		got := payloads(rb.drainAll())
		want := []byte{byte(cycle*10 + 2), byte(cycle*10 + 3), byte(cycle*10 + 4)}
		if string(got) != string(want) {
			t.Errorf("cycle %d: got %v, want %v", cycle, got, want)
		}
	}
}

func TestRingBufferRequeueKeepsOrder(t *testing.T) {
	rb := newRingBuffer(6)
	rb.push(msg(5))
	rb.push(msg(6))

	rb.requeue([]bufferedMsg{msg(2), msg(3), msg(4)})

	got := payloads(rb.drainAll())
	if string(got) != string([]byte{2, 3, 4, 5, 6}) {
		t.Errorf("got %v, want [2 3 4 5 6]", got)
	}
}

func TestRingBufferRequeueWhenFull(t *testing.T) {
	rb := newRingBuffer(3)
	rb.push(msg(7))
	rb.push(msg(8))

	rb.requeue([]bufferedMsg{msg(4), msg(5), msg(6)})

	got := payloads(rb.drainAll())
	if string(got) != string([]byte{6, 7, 8}) {
		t.Errorf("got %v, want [6 7 8]", got)
	}
	if rb.dropped != 2 {
		t.Errorf("dropped: got %d, want 2", rb.dropped)
	}
}

func TestRingBufferPreservesFields(t *testing.T) {
	rb := newRingBuffer(2)
	rb.push(bufferedMsg{topic: TopicSystem, payload: []byte("x"), qos: 1, retained: true})

	got := rb.drainAll()[0]
	if got.topic != TopicSystem || string(got.payload) != "x" || got.qos != 1 || !got.retained {
		t.Errorf("got %+v", got)
	}
}

func TestReplayOrder(t *testing.T) {
	p := &RealPublisher{buf: newRingBuffer(10)}
	for i := 0; i < 4; i++ {
		p.buf.push(msg(i))
	}

	var sent []byte
	n := p.replay(func(m bufferedMsg) error {
		sent = append(sent, m.payload[0])
		return nil
	})

	if n != 4 || string(sent) != string([]byte{0, 1, 2, 3}) {
		t.Errorf("replay: n=%d sent=%v", n, sent)
	}
	if p.buf.len() != 0 {
		t.Errorf("buffer not empty after replay: %d", p.buf.len())
	}
}

func TestReplayStopsOnFailure(t *testing.T) {
	p := &RealPublisher{buf: newRingBuffer(10)}
	for i := 0; i < 4; i++ {
		p.buf.push(msg(i))
	}

	calls := 0
	n := p.replay(func(m bufferedMsg) error {
		calls++
		if m.payload[0] == 2 {
			return errors.New("connection lost")
		}
		return nil
	})

	if n != 2 {
		t.Errorf("sent: got %d, want 2", n)
	}
	if calls != 3 {
		t.Errorf("send calls: got %d, want 3", calls)
	}
	got := payloads(p.buf.drainAll())
	if string(got) != string([]byte{2, 3}) {
		t.Errorf("remaining: got %v, want [2 3]", got)
	}
}
