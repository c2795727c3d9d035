package logging

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"
)

// lineWriter prefixes each complete line written to it with a running line
// number and a wall-clock timestamp before passing it on. A partial line is
// held until its newline arrives or Close is called.
type lineWriter struct {
	mu      sync.Mutex
	target  io.Writer
	pending bytes.Buffer
	seq     uint64
	now     func() time.Time
}

func newLineWriter(target io.Writer) *lineWriter {
	return &lineWriter{target: target, now: time.Now}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending.Write(p)
	for {
		idx := bytes.IndexByte(w.pending.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := w.pending.Next(idx + 1)
		if err := w.emit(line); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

func (w *lineWriter) emit(line []byte) error {
	w.seq++
	if _, err := fmt.Fprintf(w.target, "line=%d time=%s ", w.seq, w.now().Format(time.RFC3339)); err != nil {
		return err
	}
	_, err := w.target.Write(line)
	return err
}

func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending.Len() == 0 {
		return nil
	}
	rest := append(w.pending.Bytes(), '\n')
	w.pending.Reset()
	return w.emit(rest)
}
