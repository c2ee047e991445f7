package mqtt

import "github.com/sweeney/motor-valve/internal/logger"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a fixed-capacity FIFO that stores messages while disconnected.
// A retained message replaces any buffered retained message on the same
// topic, since the broker would only keep the newest one anyway. This keeps
// a long outage from evicting one valve's state with another's updates.
// Not safe for concurrent use; RealPublisher guards it with its mutex.
type ringBuffer struct {
	buf      []bufferedMsg
	head     int // next write position
	count    int
	overflow bool // true if any message was dropped since last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{buf: make([]bufferedMsg, capacity)}
}

func (r *ringBuffer) at(i int) *bufferedMsg {
	n := len(r.buf)
	return &r.buf[(r.head-r.count+i+n)%n]
}

func (r *ringBuffer) push(msg bufferedMsg) {
	if msg.retained {
		for i := 0; i < r.count; i++ {
			if old := r.at(i); old.retained && old.topic == msg.topic {
				*old = msg
				return
			}
		}
	}

	if r.count == len(r.buf) {
		if !r.overflow {
			logger.Named("mqtt").Warnf("buffer full (%d messages), dropping oldest", len(r.buf))
			r.overflow = true
		}
		r.count--
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % len(r.buf)
	r.count++
}

// drainAll returns buffered messages oldest first and empties the buffer.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}

	result := make([]bufferedMsg, r.count)
	for i := range result {
		result[i] = *r.at(i)
	}

	r.count = 0
	r.head = 0
	r.overflow = false
	return result
}

func (r *ringBuffer) len() int {
	return r.count
}
