// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package agent

import (
	"io"
	"sync"

	"github.com/djherbis/buffer"
	"github.com/djherbis/nio/v3"
)

// pipe is a bounded in-memory byte pipe between the recorder's output
// branch and a live upload session. Writes block while the buffer is full
// and reads block while it is empty. Closing the read side fails pending
// and future writes with io.ErrClosedPipe so a stalled consumer can never
// wedge the streaming goroutine.
type pipe struct {
	buf *lockedBuffer
	r   *nio.PipeReader
	w   *nio.PipeWriter
}

func newPipe(capacity int) *pipe {
	if capacity <= 0 {
		capacity = 1
	}
	buf := &lockedBuffer{b: buffer.New(int64(capacity))}
	r, w := nio.Pipe(buf)
	return &pipe{buf: buf, r: r, w: w}
}

func (p *pipe) Write(b []byte) (int, error) { return p.w.Write(b) }

func (p *pipe) Read(b []byte) (int, error) { return p.r.Read(b) }

// CloseRead abandons the consumer side.
func (p *pipe) CloseRead() {
	_ = p.r.CloseWithError(io.ErrClosedPipe)
}

// Buffered returns the number of unread bytes.
func (p *pipe) Buffered() int {
	return int(p.buf.Len())
}

// lockedBuffer lets Buffered read the length while the pipe's goroutines
// move data through it.
type lockedBuffer struct {
	mu sync.Mutex
	b  buffer.Buffer
}

func (l *lockedBuffer) Len() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Len()
}

func (l *lockedBuffer) Cap() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Cap()
}

func (l *lockedBuffer) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Read(p)
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}
