package process

import (
	"bytes"
	"sync"
)

// maxLine bounds a single buffered line; longer runs are emitted in pieces.
const maxLine = 8 << 10

// lineWriter splits child output into trimmed lines. Both '\n' and '\r' end a
// line, since encoders redraw progress with carriage returns.
type lineWriter struct {
	stream string
	fn     LineFunc

	mu  sync.Mutex
	buf []byte
}

func newLineWriter(stream string, fn LineFunc) *lineWriter {
	return &lineWriter{stream: stream, fn: fn}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexAny(p, "\r\n")
		if idx == -1 {
			w.buf = append(w.buf, p...)
			if len(w.buf) >= maxLine {
				w.emit(w.buf)
				w.buf = w.buf[:0]
			}
			break
		}
		w.buf = append(w.buf, p[:idx]...)
		w.emit(w.buf)
		w.buf = w.buf[:0]
		p = p[idx+1:]
	}
	return total, nil
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(w.buf)
	w.buf = w.buf[:0]
}

func (w *lineWriter) emit(b []byte) {
	line := bytes.TrimSpace(b)
	if len(line) == 0 || w.fn == nil {
		return
	}
	w.fn(w.stream, string(line))
}
