package savefile

import (
	"bufio"
	"bytes"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Writer appends records to a savefile. It is not safe for concurrent use;
// a cortex delivers save events from one writer at a time.
type Writer struct {
	zw  *zstd.Encoder
	enc *msgpack.Encoder
	n   int
}

// NewWriter returns a Writer on w, compressing with zstd if compress is set.
func NewWriter(w io.Writer, compress bool) (*Writer, error) {
	sw := &Writer{}
	if compress {
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, errors.Wrap(err, "create zstd writer")
		}
		sw.zw = zw
		w = zw
	}
	sw.enc = msgpack.NewEncoder(w)
	return sw, nil
}

// Write appends rec.
func (w *Writer) Write(rec Record) error {
	if err := w.enc.Encode(&rec); err != nil {
		return errors.Wrapf(err, "encode record %d", w.n)
	}
	w.n++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	return w.n
}

// Flush pushes compressed data to the underlying writer.
func (w *Writer) Flush() error {
	if w.zw == nil {
		return nil
	}
	return w.zw.Flush()
}

// Close finishes the zstd frame. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.zw == nil {
		return nil
	}
	return w.zw.Close()
}

// Reader reads records from a savefile.
type Reader struct {
	zr  *zstd.Decoder
	dec *msgpack.Decoder
	n   int
}

// NewReader returns a Reader on r.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "read savefile header")
	}
	sr := &Reader{}
	var src io.Reader = br
	if bytes.Equal(head, zstdMagic) {
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "create zstd reader")
		}
		sr.zr = zr
		src = zr
	}
	sr.dec = msgpack.NewDecoder(src)
	return sr, nil
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return rec, io.EOF
		}
		return rec, errors.Wrapf(err, "decode record %d", r.n)
	}
	r.n++
	return rec, nil
}

// Close releases the decompressor.
func (r *Reader) Close() {
	if r.zr != nil {
		r.zr.Close()
	}
}
