package mqtt

import (
	"fmt"
	"testing"
)

func TestRingBufferPushDrain(t *testing.T) {
	r := newRingBuffer(4)

	r.push(bufferedMsg{topic: "a", payload: []byte("1")})
	r.push(bufferedMsg{topic: "b", payload: []byte("2")})
	if r.len() != 2 {
		t.Fatalf("len: got %d, want 2", r.len())
	}

	msgs := r.drainAll()
	if len(msgs) != 2 {
		t.Fatalf("drained %d, want 2", len(msgs))
	}
	if msgs[0].topic != "a" || msgs[1].topic != "b" {
		t.Errorf("order wrong: %v, %v", msgs[0].topic, msgs[1].topic)
	}
	if r.len() != 0 {
		t.Errorf("buffer not empty after drain: %d", r.len())
	}
	if r.drainAll() != nil {
		t.Error("second drain should return nil")
	}
}

func TestRingBufferDropsOldestWhenFull(t *testing.T) {
	r := newRingBuffer(3)
	for i := 0; i < 5; i++ {
		r.push(bufferedMsg{topic: fmt.Sprintf("t%d", i)})
	}

	if r.len() != 3 {
		t.Fatalf("len: got %d, want 3", r.len())
	}
	msgs := r.drainAll()
	want := []string{"t2", "t3", "t4"}
	for i, w := range want {
		if msgs[i].topic != w {
			t.Errorf("msg %d: got %s, want %s", i, msgs[i].topic, w)
		}
	}
}

func TestRingBufferDropFlagResets(t *testing.T) {
	r := newRingBuffer(1)
	r.push(bufferedMsg{topic: "a"})
	r.push(bufferedMsg{topic: "b"})
	if !r.dropped {
		t.Error("expected dropped=true after overflow")
	}

	r.drainAll()
	if r.dropped {
		t.Error("dropped should reset on drain")
	}
}
