package warc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// BlockSize is the read buffer used over upload streams.
const BlockSize = 16384 * 8

var (
	// ErrInvalidRecord is returned when a record header cannot be parsed.
	ErrInvalidRecord = errors.New("invalid warc record")
	// ErrNonChunkedGzip is returned when a gzip member holds more than one
	// record, so record offsets cannot be addressed.
	ErrNonChunkedGzip = errors.New("non-chunked gzip: records must be compressed one gzip member each")
)

// Record is one WARC record. Body is valid until the next call to Reader.Next.
type Record struct {
	Type          string
	Header        Header
	ContentLength int64
	// Offset is where the record (or its gzip member) starts in the stream.
	Offset int64
	// Length is the full on-disk size of the record, known once the reader
	// has moved past it.
	Length int64
	Body   io.Reader
}

type lineSource interface {
	io.Reader
	ReadString(delim byte) (string, error)
}

// countingReader counts bytes handed out, not bytes buffered, so offsets
// stay exact even though reads go through a bufio.Reader.
type countingReader struct {
	br *bufio.Reader
	n  int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.br.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.br.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

func (c *countingReader) ReadString(delim byte) (string, error) {
	s, err := c.br.ReadString(delim)
	c.n += int64(len(s))
	return s, err
}

// Reader iterates the records of a plain or gzipped WARC stream in a single
// forward pass.
type Reader struct {
	cr      *countingReader
	gzipped bool
	gz      *gzip.Reader
	src     lineSource
	body    *io.LimitedReader
	cur     *Record
	end     int64
	err     error
}

// NewReader wraps r, sniffing the gzip magic to pick the framing.
func NewReader(r io.Reader) *Reader {
	cr := &countingReader{br: bufio.NewReaderSize(r, BlockSize)}
	rd := &Reader{cr: cr}
	if magic, _ := cr.br.Peek(2); len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		rd.gzipped = true
	}
	return rd
}

// Offset returns the end offset of the last fully consumed record.
func (r *Reader) Offset() int64 {
	return r.end
}

// Consumed returns every byte taken from the underlying stream so far.
func (r *Reader) Consumed() int64 {
	return r.cr.n
}

// Next finishes the current record and reads the header of the following one.
// It returns io.EOF once the stream is exhausted at a record boundary.
func (r *Reader) Next() (*Record, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.cur != nil {
		if err := r.finish(); err != nil {
			r.err = err
			return nil, err
		}
	}
	rec, err := r.readHeader()
	if err != nil {
		r.err = err
		return nil, err
	}
	r.cur = rec
	return rec, nil
}

// Drain discards whatever is left in the underlying stream.
func (r *Reader) Drain() (int64, error) {
	return io.Copy(io.Discard, r.cr)
}

func (r *Reader) readHeader() (*Record, error) {
	var start int64
	if r.gzipped {
		start = r.cr.n
		if r.gz == nil {
			gz, err := gzip.NewReader(r.cr)
			if err != nil {
				return nil, err
			}
			r.gz = gz
		} else if err := r.gz.Reset(r.cr); err != nil {
			return nil, err
		}
		r.gz.Multistream(false)
		r.src = bufio.NewReader(r.gz)
	} else {
		r.skipNewlines()
		start = r.cr.n
		r.src = r.cr
	}

	line, err := r.src.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line == "" {
			return nil, io.EOF
		}
		return nil, io.ErrUnexpectedEOF
	}
	if !strings.HasPrefix(line, "WARC/") {
		return nil, fmt.Errorf("%w: bad version line %q at offset %d", ErrInvalidRecord, strings.TrimSpace(line), start)
	}

	var h Header
	for {
		line, err = r.src.ReadString('\n')
		if err != nil {
			return nil, io.ErrUnexpectedEOF
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		if (trimmed[0] == ' ' || trimmed[0] == '\t') && len(h) > 0 {
			h[len(h)-1].Value += " " + strings.TrimSpace(trimmed)
			continue
		}
		name, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			return nil, fmt.Errorf("%w: bad header line %q at offset %d", ErrInvalidRecord, trimmed, start)
		}
		h = append(h, Field{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}

	cl, err := h.contentLength()
	if err != nil || cl < 0 {
		return nil, fmt.Errorf("%w: bad content length at offset %d", ErrInvalidRecord, start)
	}
	r.body = &io.LimitedReader{R: r.src, N: cl}
	return &Record{
		Type:          h.Get(HeaderType),
		Header:        h,
		ContentLength: cl,
		Offset:        start,
		Body:          r.body,
	}, nil
}

func (r *Reader) finish() error {
	if _, err := io.Copy(io.Discard, r.body); err != nil {
		return err
	}
	if r.body.N > 0 {
		return io.ErrUnexpectedEOF
	}
	if r.gzipped {
		extra, err := discardCounting(r.src)
		if err != nil {
			return err
		}
		if extra > 0 {
			return fmt.Errorf("%w: %d bytes follow the record at offset %d", ErrNonChunkedGzip, extra, r.cur.Offset)
		}
	} else {
		r.skipNewlines()
	}
	r.cur.Length = r.cr.n - r.cur.Offset
	r.end = r.cr.n
	r.cur = nil
	return nil
}

func (r *Reader) skipNewlines() {
	for {
		b, err := r.cr.br.Peek(1)
		if err != nil || (b[0] != '\r' && b[0] != '\n') {
			return
		}
		_, _ = r.cr.ReadByte()
	}
}

// discardCounting drains r and returns how many bytes other than CR or LF it held.
func discardCounting(r io.Reader) (int64, error) {
	buf := make([]byte, 4096)
	var extra int64
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if b != '\r' && b != '\n' {
				extra++
			}
		}
		if errors.Is(err, io.EOF) {
			return extra, nil
		}
		if err != nil {
			return extra, err
		}
	}
}
