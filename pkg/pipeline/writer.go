package pipeline

import (
	"bufio"
	"io"
	"sync"
)

var _ Writer = (*LineWriter)(nil)

// LineWriter is a buffered Writer that terminates each text with a newline.
// It's safe for concurrent use.
type LineWriter struct {
	mux sync.Mutex
	buf *bufio.Writer
}

func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{buf: bufio.NewWriter(w)}
}

func (w *LineWriter) Write(text string) error {
	w.mux.Lock()
	defer w.mux.Unlock()
	if _, err := w.buf.WriteString(text); err != nil {
		return err
	}
	return w.buf.WriteByte('\n')
}

func (w *LineWriter) Flush() error {
	w.mux.Lock()
	defer w.mux.Unlock()
	return w.buf.Flush()
}
