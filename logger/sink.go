package logger

import (
	"strings"
	"sync/atomic"
)

// ChannelSink is an io.Writer that turns each written log line into an
// event on a bounded channel. Writes never block: when the buffer is full
// the line is dropped and counted.
type ChannelSink struct {
	events  chan string
	dropped atomic.Int64
}

// NewChannelSink creates a sink holding at most size undrained events.
func NewChannelSink(size int) *ChannelSink {
	if size <= 0 {
		size = 256
	}
	return &ChannelSink{events: make(chan string, size)}
}

func (s *ChannelSink) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	select {
	case s.events <- line:
	default:
		s.dropped.Add(1)
	}
	return len(p), nil
}

// Drain returns every event currently buffered without waiting for more.
func (s *ChannelSink) Drain() []string {
	out := make([]string, 0, len(s.events))
	for {
		select {
		case ev := <-s.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Dropped reports how many events were discarded because nobody polled.
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}
