package bridge

import (
	"sync"
	"time"
)

const (
	// 20ms of 48kHz mono 16-bit PCM.
	frameBytes    = 960 * 2
	frameDuration = 20 * time.Millisecond
	// 100ms of 16kHz mono 16-bit PCM, the chunk size the streaming recognizer expects.
	inputChunkBytes = 3200
	tailFrames      = 10
)

// PacedWriter splits 48kHz PCM into 20ms frames and hands them to write at
// real-time pace, so a barge-in Reset drops audio the client has not heard.
type PacedWriter struct {
	write    func([]byte) error
	interval time.Duration

	mu      sync.Mutex
	pending []byte
	frames  chan []byte
	stopCh  chan struct{}
	stopped bool
}

func NewPacedWriter(write func([]byte) error) *PacedWriter {
	return newPacedWriter(write, frameDuration)
}

func newPacedWriter(write func([]byte) error, interval time.Duration) *PacedWriter {
	w := &PacedWriter{
		write:    write,
		interval: interval,
		frames:   make(chan []byte, 512),
		stopCh:   make(chan struct{}),
	}
	go w.pacer()
	return w
}

// WritePCM buffers pcm and queues every complete frame.
func (w *PacedWriter) WritePCM(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	w.mu.Lock()
	w.pending = append(w.pending, pcm...)
	var ready [][]byte
	for len(w.pending) >= frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, w.pending[:frameBytes])
		ready = append(ready, frame)
		w.pending = w.pending[frameBytes:]
	}
	w.mu.Unlock()
	for _, f := range ready {
		w.push(f)
	}
}

// FlushTail zero-pads the partial frame and appends ~200ms of silence.
func (w *PacedWriter) FlushTail() {
	w.mu.Lock()
	var last []byte
	if len(w.pending) > 0 {
		last = make([]byte, frameBytes)
		copy(last, w.pending)
		w.pending = nil
	}
	w.mu.Unlock()
	if last != nil {
		w.push(last)
	}
	for i := 0; i < tailFrames; i++ {
		w.push(make([]byte, frameBytes))
	}
}

// Reset drops buffered and queued audio.
func (w *PacedWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = nil
	for {
		select {
		case <-w.frames:
		default:
			return
		}
	}
}

// Close stops the pacer; queued frames are discarded.
func (w *PacedWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
}

func (w *PacedWriter) push(frame []byte) {
	select {
	case <-w.stopCh:
	case w.frames <- frame:
	}
}

func (w *PacedWriter) pacer() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-w.frames:
				_ = w.write(frame)
			default:
			}
		}
	}
}

// chunker regroups arbitrary binary frames into fixed-size chunks.
type chunker struct {
	size int
	buf  []byte
}

func (c *chunker) add(data []byte, emit func([]byte)) {
	c.buf = append(c.buf, data...)
	for len(c.buf) >= c.size {
		chunk := make([]byte, c.size)
		copy(chunk, c.buf[:c.size])
		emit(chunk)
		c.buf = c.buf[c.size:]
	}
}
