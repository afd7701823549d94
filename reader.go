package gemini

import (
	"bytes"
	"crypto/tls"
	"errors"
	"io"
	"net"
)

const readBufferSize = 4096

var (
	// ErrBodyNotStarted is returned by ReadChunk before BeginBody was called.
	ErrBodyNotStarted = errors.New("body reading has not begun")
	// ErrLineTooLong is returned by ReadLineLimit once a line is known to
	// exceed its limit.
	ErrLineTooLong = errors.New("line too long")
)

// WireReader reads a response, first line by line, then, after BeginBody,
// in raw chunks. A closed connection is the end of the stream, not an
// error: buffered bytes are returned once, then io.EOF.
type WireReader struct {
	r   io.Reader
	buf []byte
	// pending is the unread part of buf
	pending []byte
	// scanned is how much of pending is known to hold no '\n'
	scanned int
	done    bool
	err     error

	body      bool
	maxBytes  int64
	read      int64
	truncated bool
}

// NewWireReader wraps r. maxBytes caps what ReadChunk returns in total;
// 0 means no cap.
func NewWireReader(r io.Reader, maxBytes int64) *WireReader {
	return &WireReader{r: r, buf: make([]byte, readBufferSize), maxBytes: maxBytes}
}

// fill reads more data into pending. It reports false once the stream has
// ended or failed.
func (w *WireReader) fill() bool {
	if w.done {
		return false
	}
	n, err := w.r.Read(w.buf)
	if n > 0 {
		w.pending = append(w.pending, w.buf[:n]...)
	}
	if err != nil {
		w.done = true
		if !isEndOfStream(err) {
			w.err = err
		}
		return n > 0
	}
	return true
}

// isEndOfStream reports errors that only mean the peer has gone.
func isEndOfStream(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var alert tls.AlertError
	if errors.As(err, &alert) && alert == 0 { // close_notify
		return true
	}
	return false
}

// ReadLine returns the next line without its CRLF or LF terminator. A
// final line without terminator is returned as is. After the last line
// it returns io.EOF, or the read error if the stream broke.
func (w *WireReader) ReadLine() ([]byte, error) {
	return w.ReadLineLimit(0)
}

// ReadLineLimit is ReadLine for lines of at most limit bytes, terminator
// excluded. It returns ErrLineTooLong without reading further once the
// buffered part of a line is over the limit. 0 means no limit.
func (w *WireReader) ReadLineLimit(limit int) ([]byte, error) {
	for {
		if i := bytes.IndexByte(w.pending[w.scanned:], '\n'); i >= 0 {
			i += w.scanned
			line := w.pending[:i]
			w.pending = w.pending[i+1:]
			w.scanned = 0
			return bytes.TrimSuffix(line, []byte("\r")), nil
		}
		w.scanned = len(w.pending)
		// one more byte may still be the '\r' of the terminator
		if limit > 0 && len(w.pending) > limit+1 {
			return nil, ErrLineTooLong
		}
		if !w.fill() {
			break
		}
	}
	w.scanned = 0
	if len(w.pending) > 0 {
		line := w.pending
		w.pending = nil
		if limit > 0 && len(line) > limit {
			return nil, ErrLineTooLong
		}
		return line, nil
	}
	return nil, w.endErr()
}

// BeginBody switches to chunk mode. The bytes already buffered after the
// header are the start of the body.
func (w *WireReader) BeginBody() {
	w.body = true
}

// ReadChunk returns up to max bytes of body. Once MaxBytes has been
// reached it returns io.EOF and Truncated reports true.
func (w *WireReader) ReadChunk(max int) ([]byte, error) {
	if !w.body {
		return nil, ErrBodyNotStarted
	}
	if w.maxBytes > 0 && w.read >= w.maxBytes {
		// only what already arrived tells of a cut body, the stream is
		// not read past the cap
		w.truncated = len(w.pending) > 0
		return nil, io.EOF
	}
	if len(w.pending) == 0 && !w.fill() {
		return nil, w.endErr()
	}
	if len(w.pending) == 0 {
		// fill returned data-less success, try again later
		return []byte{}, nil
	}

	n := len(w.pending)
	if max > 0 && n > max {
		n = max
	}
	if w.maxBytes > 0 && w.read+int64(n) > w.maxBytes {
		n = int(w.maxBytes - w.read)
	}
	chunk := make([]byte, n)
	copy(chunk, w.pending[:n])
	w.pending = w.pending[n:]
	w.read += int64(n)
	return chunk, nil
}

// Buffered reports whether bytes were received and not returned yet.
func (w *WireReader) Buffered() bool {
	return len(w.pending) > 0
}

// Truncated reports whether ReadChunk stopped because of the byte cap.
func (w *WireReader) Truncated() bool {
	return w.truncated
}

func (w *WireReader) endErr() error {
	if w.err != nil {
		return w.err
	}
	return io.EOF
}
