package gemini

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// Response represents the outcome of a fetch. Transport, protocol and
// content problems are reported in Error rather than as a Go error.
type Response struct {
	// NetworkSuccess is set when a server was reached and answered with a
	// well-formed header.
	NetworkSuccess bool
	// IPAddress is the address that answered.
	IPAddress string
	// URL is the URI that produced this response, after redirects.
	URL string
	// Redirects lists the URIs redirected from, in order.
	Redirects []string

	// Status is the two-digit status code, empty if no header was read.
	Status string
	Meta   string

	MediaType string
	Language  string
	Charset   string
	// DetectedType is the sniffed MIME type of a binary body.
	DetectedType string

	// Body is only set when the body was requested.
	Body *Body
	// Truncated is set when MaxLines or MaxBytes cut the body.
	Truncated bool
	// Links is only set for text/gemini successes when links were requested.
	Links []string

	Error string
	// Cert is the server certificate received in the connection.
	Cert *CertInfo
}

// IsSuccess reports a 2x status.
func (r *Response) IsSuccess() bool {
	return SimplifyStatus(r.Status) == StatusSuccess
}

// BodyKind tells how a body was read.
type BodyKind int

const (
	BodyText BodyKind = iota
	BodyBinary
)

// Body is either decoded text lines or raw bytes.
type Body struct {
	Kind BodyKind
	// Lines holds the decoded lines of a text body, without terminators.
	Lines []string
	// Data holds a binary body.
	Data []byte
}

// Text returns a text body with each line terminated by "\n", or a binary
// body as is.
func (b *Body) Text() string {
	if b.Kind == BodyBinary {
		return string(b.Data)
	}
	var sb strings.Builder
	for _, l := range b.Lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Bytes returns the body as bytes.
func (b *Body) Bytes() []byte {
	if b.Kind == BodyBinary {
		return b.Data
	}
	return []byte(b.Text())
}

// headerError is a protocol error found in the response header.
type headerError string

func (e headerError) Error() string { return string(e) }

const (
	errNoHeader        headerError = "No header line"
	errShortHeader     headerError = "Short header"
	errErroneousHeader headerError = "Erroneous header line"
	errWrongStatus     headerError = "Wrong status code"
	errMetaTooLong     headerError = "Meta too long"
)

// readHeader reads and validates the "SS META" header line.
func readHeader(w *WireReader) (status, meta string, err error) {
	line, err := w.ReadLineLimit(len("20 ") + MetaMaxLength)
	if errors.Is(err, io.EOF) {
		return "", "", errNoHeader
	}
	if errors.Is(err, ErrLineTooLong) {
		return "", "", errMetaTooLong
	}
	if err != nil {
		return "", "", fmt.Errorf("cannot read header: %v", err)
	}
	return parseHeader(line)
}

func parseHeader(line []byte) (status, meta string, err error) {
	if len(line) == 0 {
		return "", "", errNoHeader
	}
	if len(line) <= 3 {
		return "", "", errShortHeader
	}
	if line[2] != ' ' {
		return "", "", errErroneousHeader
	}
	if !isTwoDigits(string(line[:2])) {
		return "", "", errWrongStatus
	}
	meta = string(line[3:])
	if len(meta) > MetaMaxLength {
		return "", "", errMetaTooLong
	}
	return string(line[:2]), meta, nil
}

// parseMediaType splits the meta of a success into media type, charset
// and language. An empty meta means text/gemini.
func parseMediaType(meta string) (mediaType, cs, lang string) {
	cs = "utf-8"
	if strings.TrimSpace(meta) == "" {
		return "text/gemini", cs, ""
	}
	mt, params, err := mime.ParseMediaType(meta)
	if err != nil {
		mt, _, _ = strings.Cut(meta, ";")
		return strings.ToLower(strings.TrimSpace(mt)), cs, ""
	}
	if v := params["charset"]; v != "" {
		cs = strings.ToLower(v)
	}
	return mt, cs, params["lang"]
}

// charsetError means a text body cannot be decoded as announced. The
// fetch is then restarted in binary mode.
type charsetError struct {
	msg string
}

func (e *charsetError) Error() string { return e.msg }

type lineDecoder func([]byte) (string, error)

func newLineDecoder(name string) (lineDecoder, error) {
	enc, canonical := charset.Lookup(name)
	if enc == nil {
		return nil, &charsetError{fmt.Sprintf("announced charset %s is unknown to me", name)}
	}
	if canonical == "utf-8" {
		return func(b []byte) (string, error) {
			if !utf8.Valid(b) {
				return "", errors.New("invalid UTF-8")
			}
			return string(b), nil
		}, nil
	}
	dec := enc.NewDecoder()
	return func(b []byte) (string, error) {
		out, err := dec.Bytes(b)
		if err != nil {
			return "", err
		}
		// x/text decoders substitute instead of failing
		if strings.ContainsRune(string(out), utf8.RuneError) {
			return "", errors.New("undecodable bytes")
		}
		return string(out), nil
	}, nil
}

func mismatchMessage(name string, sample []byte) string {
	msg := fmt.Sprintf("announced charset %s does not match the content", name)
	if r, err := chardet.NewTextDetector().DetectBest(sample); err == nil && r != nil && r.Charset != "" {
		msg += fmt.Sprintf(" (it looks like %s)", strings.ToLower(r.Charset))
	}
	return msg
}

// readTextBody reads up to maxLines lines decoded with cs.
func readTextBody(w *WireReader, cs string, maxLines int) (lines []string, truncated bool, err error) {
	decode, err := newLineDecoder(cs)
	if err != nil {
		return nil, false, err
	}
	lines = []string{}
	for maxLines <= 0 || len(lines) < maxLines {
		raw, err := w.ReadLine()
		if errors.Is(err, io.EOF) {
			return lines, false, nil
		}
		if err != nil {
			return lines, false, err
		}
		line, derr := decode(raw)
		if derr != nil {
			return nil, false, &charsetError{mismatchMessage(cs, raw)}
		}
		lines = append(lines, line)
	}
	return lines, w.Buffered(), nil
}

// readBinaryBody concatenates every chunk of the body.
func readBinaryBody(w *WireReader) ([]byte, error) {
	w.BeginBody()
	data := []byte{}
	for {
		chunk, err := w.ReadChunk(readBufferSize)
		data = append(data, chunk...)
		if errors.Is(err, io.EOF) {
			return data, nil
		}
		if err != nil {
			return data, err
		}
	}
}

func sniffType(data []byte) string {
	return mimetype.Detect(data).String()
}
