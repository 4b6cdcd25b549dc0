package audio

import (
	"sync"
)

// Sink receives encoded PCM frames from a Bridge. It is implemented by STT
// session handles; IsConnected lets the bridge drop frames instead of blocking
// when the transcription channel is down.
type Sink interface {
	// IsConnected reports whether the underlying channel can accept audio.
	IsConnected() bool

	// SendAudio delivers one chunk of little-endian int16 PCM bytes.
	SendAudio(chunk []byte) error
}

// Bridge pumps float sample blocks from a source channel through EncodePCM16
// into a Sink. Frames are real-time and perishable: while the bridge is
// stopped, or while the sink reports itself disconnected, frames are dropped
// rather than buffered.
//
// The forwarding goroutine starts in NewBridge and runs until Close or until
// the source channel is closed. Start and Stop only gate forwarding; they do
// not affect the goroutine's lifecycle.
type Bridge struct {
	sink Sink

	mu      sync.Mutex
	running bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewBridge creates a Bridge reading from source and forwarding to sink.
// The bridge starts gated closed; call Start to begin forwarding.
func NewBridge(source <-chan []float32, sink Sink) *Bridge {
	b := &Bridge{
		sink: sink,
		done: make(chan struct{}),
	}
	b.wg.Add(1)
	go b.pump(source)
	return b
}

// Start opens the forwarding gate. Calling Start on a running bridge is a no-op.
func (b *Bridge) Start() {
	b.mu.Lock()
	b.running = true
	b.mu.Unlock()
}

// Stop closes the forwarding gate. Frames arriving while stopped are dropped.
func (b *Bridge) Stop() {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
}

// Close stops forwarding and terminates the pump goroutine. It is safe to call
// multiple times and safe to call on a bridge whose initialization only
// partially completed.
func (b *Bridge) Close() {
	b.Stop()
	b.closeOnce.Do(func() {
		if b.done != nil {
			close(b.done)
		}
	})
	b.wg.Wait()
}

func (b *Bridge) pump(source <-chan []float32) {
	defer b.wg.Done()
	for {
		select {
		case samples, ok := <-source:
			if !ok {
				return
			}
			if !b.isRunning() {
				continue
			}
			if b.sink == nil || !b.sink.IsConnected() {
				continue
			}
			// Send errors are not retried: the frame is stale by the time a
			// retry could succeed.
			_ = b.sink.SendAudio(EncodePCM16(samples))
		case <-b.done:
			return
		}
	}
}

func (b *Bridge) isRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}
