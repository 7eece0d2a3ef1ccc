package mqtt

import "log"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a bounded FIFO holding messages while disconnected. When
// full, the oldest message is dropped. Not safe for concurrent use — the
// caller must synchronize.
type ringBuffer struct {
	msgs    []bufferedMsg
	max     int
	dropped bool // true if any message was dropped since the last drain
}

func newRingBuffer(max int) *ringBuffer {
	return &ringBuffer{max: max}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	if len(r.msgs) == r.max {
		if !r.dropped {
			log.Printf("mqtt: buffer full (%d messages), dropping oldest", r.max)
			r.dropped = true
		}
		copy(r.msgs, r.msgs[1:])
		r.msgs[len(r.msgs)-1] = msg
		return
	}
	r.msgs = append(r.msgs, msg)
}

// drainAll returns the buffered messages in arrival order and resets the
// buffer.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if len(r.msgs) == 0 {
		return nil
	}
	out := r.msgs
	r.msgs = nil
	r.dropped = false
	return out
}

func (r *ringBuffer) len() int {
	return len(r.msgs)
}
