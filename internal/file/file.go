// Package file reads newline-delimited Maxwell messages and writes one JSON
// record per line.
package file

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"maxwell-cdc/internal/models"
)

// Stdio is the path that selects stdin for a reader and stdout for a writer
const Stdio = "-"

const maxLineSize = 16 * 1024 * 1024

type line struct {
	data []byte
	err  error
}

// Reader yields one message per input line and io.EOF when the input ends
type Reader struct {
	src     io.ReadCloser
	lines   chan line
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	logger  *logrus.Logger
}

func NewReader(path string, logger *logrus.Logger) (*Reader, error) {
	var src io.ReadCloser = os.Stdin
	if path != Stdio {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		src = f
	}
	logger.Infof("Reading messages from %s", path)
	return newReader(src, logger), nil
}

func newReader(src io.ReadCloser, logger *logrus.Logger) *Reader {
	r := &Reader{
		src:     src,
		lines:   make(chan line),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger,
	}
	go r.scan()
	return r
}

func (r *Reader) scan() {
	defer close(r.stopped)
	defer close(r.lines)

	scanner := bufio.NewScanner(r.src)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		data := append([]byte(nil), scanner.Bytes()...)
		if !r.send(line{data: data}) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		r.send(line{err: fmt.Errorf("failed to read input: %w", err)})
	}
}

// send hands l to Read and reports false once the reader is closed
func (r *Reader) send(l line) bool {
	select {
	case r.lines <- l:
		return true
	case <-r.done:
		return false
	}
}

// Read returns the next line, or io.EOF once the input is exhausted
func (r *Reader) Read(ctx context.Context) (*models.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return nil, io.EOF
	case l, ok := <-r.lines:
		if !ok {
			return nil, io.EOF
		}
		if l.err != nil {
			return nil, l.err
		}
		return &models.Message{Value: l.data}, nil
	}
}

func (r *Reader) Close() error {
	var err error
	r.once.Do(func() {
		close(r.done)
		if r.src != os.Stdin {
			err = r.src.Close()
		}
	})
	return err
}

// Writer appends one payload per line
type Writer struct {
	mu     sync.Mutex
	dst    io.WriteCloser
	buf    *bufio.Writer
	logger *logrus.Logger
}

func NewWriter(path string, logger *logrus.Logger) (*Writer, error) {
	var dst io.WriteCloser = os.Stdout
	if path != Stdio {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		dst = f
	}
	return newWriter(dst, logger), nil
}

func newWriter(dst io.WriteCloser, logger *logrus.Logger) *Writer {
	return &Writer{
		dst:    dst,
		buf:    bufio.NewWriter(dst),
		logger: logger,
	}
}

func (w *Writer) Publish(_ context.Context, event *models.ChangeEvent) error {
	data, err := event.Payload()
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.buf.Write(data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	w.logger.Debugf("Wrote %s event for %s.%s", event.Kind, event.Database, event.Table)
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}
	if w.dst == os.Stdout {
		return nil
	}
	return w.dst.Close()
}
