package session

import (
	"sync"

	"github.com/orbisvoice/orbis/pkg/audio"
)

// sendQueueFrames bounds the frames waiting for the network. At the default
// capture buffer this is about two seconds of speech.
const sendQueueFrames = 8

// sender moves outbound frames off the capture goroutine. The capture side
// enqueues without blocking; a single goroutine performs the network writes.
type sender struct {
	frames chan audio.AudioFrame
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newSender(depth int) *sender {
	return &sender{
		frames: make(chan audio.AudioFrame, depth),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// run calls send for each queued frame until close. It is the only caller
// of send.
func (s *sender) run(send func(audio.AudioFrame)) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case f := <-s.frames:
			send(f)
		}
	}
}

// enqueue hands f to the sender. It never blocks and reports false when the
// queue is full or the sender has stopped.
func (s *sender) enqueue(f audio.AudioFrame) bool {
	select {
	case <-s.stop:
		return false
	default:
	}
	select {
	case s.frames <- f:
		return true
	default:
		return false
	}
}

// close stops the sender and waits for an in-flight send to return. The
// session must already be closed so that a blocked send can finish.
func (s *sender) close() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}
