package warc

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// Writer appends records to a stream, optionally as one gzip member each.
type Writer struct {
	w       io.Writer
	gzipped bool
	n       int64
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer, gzipped bool) *Writer {
	return &Writer{w: w, gzipped: gzipped}
}

// Written returns the number of bytes written to the underlying stream.
func (w *Writer) Written() int64 {
	return w.n
}

// NewHeader builds the mandatory header fields for a record.
func NewHeader(recType, targetURI string, date time.Time) Header {
	h := Header{
		{Name: HeaderType, Value: recType},
		{Name: HeaderRecordID, Value: "<urn:uuid:" + uuid.NewString() + ">"},
		{Name: HeaderDate, Value: date.UTC().Format(time.RFC3339)},
	}
	if targetURI != "" {
		h = append(h, Field{Name: HeaderTargetURI, Value: targetURI})
	}
	return h
}

// WriteRecord writes one record with block as its content and returns the
// number of bytes it occupies in the stream.
func (w *Writer) WriteRecord(h Header, block []byte) (int64, error) {
	h.Set(HeaderContentLength, strconv.Itoa(len(block)))

	cw := &countingWriter{w: w.w}
	var dst io.Writer = cw
	var zw *gzip.Writer
	if w.gzipped {
		zw = gzip.NewWriter(cw)
		dst = zw
	}
	bw := bufio.NewWriter(dst)
	if _, err := fmt.Fprintf(bw, "%s\r\n", version); err != nil {
		return cw.n, err
	}
	for _, f := range h {
		if _, err := fmt.Fprintf(bw, "%s: %s\r\n", f.Name, f.Value); err != nil {
			return cw.n, err
		}
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return cw.n, err
	}
	if _, err := bw.Write(block); err != nil {
		return cw.n, err
	}
	if _, err := bw.WriteString("\r\n\r\n"); err != nil {
		return cw.n, err
	}
	if err := bw.Flush(); err != nil {
		return cw.n, err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return cw.n, err
		}
	}
	w.n += cw.n
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
