package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/meigma/assetcache/internal/fsutil"
)

const copyBufferSize = 256 << 10

// PayloadSource opens the bytes for a file entry. The caller closes the
// returned reader.
type PayloadSource func(ctx context.Context, entry FileEntry) (io.ReadCloser, error)

// WriterOption configures a Writer.
type WriterOption func(*writerConfig)

type writerConfig struct {
	level zstd.EncoderLevel
}

// WithEncoderLevel sets the zstd level. Defaults to zstd.SpeedBestCompression.
func WithEncoderLevel(level zstd.EncoderLevel) WriterOption {
	return func(c *writerConfig) {
		c.level = level
	}
}

// Writer streams an archive: one call to WriteHeader, one call to WriteFile
// per header entry in order, then Close.
type Writer struct {
	enc    *zstd.Encoder
	bw     *bufio.Writer
	header *Header
	next   int
	buf    []byte
	err    error
	closed bool
}

// NewWriter returns a Writer that compresses into w. Closing the Writer
// does not close w.
func NewWriter(w io.Writer, opts ...WriterOption) (*Writer, error) {
	cfg := writerConfig{level: zstd.SpeedBestCompression}
	for _, opt := range opts {
		opt(&cfg)
	}
	enc, err := zstd.NewWriter(w,
		zstd.WithEncoderLevel(cfg.level),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &Writer{
		enc: enc,
		bw:  bufio.NewWriterSize(enc, copyBufferSize),
	}, nil
}

// WriteHeader writes the marker and header. It must be called exactly once,
// before any WriteFile.
func (w *Writer) WriteHeader(h *Header) error {
	if w.err != nil {
		return w.err
	}
	if w.header != nil {
		return errors.New("archive: header already written")
	}
	if err := writeHeader(w.bw, h); err != nil {
		w.err = err
		return err
	}
	w.header = h
	return nil
}

// WriteFile copies the payload for the next header entry from r. r must
// provide exactly the entry's declared length.
func (w *Writer) WriteFile(ctx context.Context, r io.Reader) error {
	if w.err != nil {
		return w.err
	}
	if w.header == nil {
		return errors.New("archive: header not written")
	}
	if w.next >= len(w.header.Files) {
		return fmt.Errorf("%w: more payloads than entries", ErrLengthMismatch)
	}
	entry := w.header.Files[w.next]

	if w.buf == nil {
		w.buf = make([]byte, copyBufferSize)
	}
	n, err := fsutil.CopyN(ctx, w.bw, r, entry.Length, w.buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		w.err = fmt.Errorf("%w: %s declared %d bytes, source had %d", ErrLengthMismatch, entry.Hash, entry.Length, n)
		return w.err
	}
	if err != nil {
		w.err = fmt.Errorf("write payload %s: %w", entry.Hash, err)
		return w.err
	}
	// The source must be exhausted, otherwise the declared length is stale.
	var extra [1]byte
	if m, _ := io.ReadFull(r, extra[:]); m > 0 {
		w.err = fmt.Errorf("%w: %s source longer than %d bytes", ErrLengthMismatch, entry.Hash, entry.Length)
		return w.err
	}
	w.next++
	return nil
}

// Close flushes the compressor. It fails if fewer payloads than header
// entries were written.
func (w *Writer) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true

	if w.err == nil && w.header == nil {
		w.err = errors.New("archive: header not written")
	}
	if w.err == nil && w.next != len(w.header.Files) {
		w.err = fmt.Errorf("%w: wrote %d of %d payloads", ErrLengthMismatch, w.next, len(w.header.Files))
	}
	if w.err == nil {
		if err := w.bw.Flush(); err != nil {
			w.err = fmt.Errorf("flush archive: %w", err)
		}
	}
	if err := w.enc.Close(); err != nil && w.err == nil {
		w.err = fmt.Errorf("close zstd encoder: %w", err)
	}
	return w.err
}

// Encode writes h and the payload of every entry, opened through src, to w.
func Encode(ctx context.Context, w io.Writer, h *Header, src PayloadSource, opts ...WriterOption) error {
	aw, err := NewWriter(w, opts...)
	if err != nil {
		return err
	}
	if err := aw.WriteHeader(h); err != nil {
		aw.Close()
		return err
	}
	for _, entry := range h.Files {
		if err := writeEntry(ctx, aw, entry, src); err != nil {
			aw.Close()
			return err
		}
	}
	return aw.Close()
}

func writeEntry(ctx context.Context, aw *Writer, entry FileEntry, src PayloadSource) error {
	rc, err := src(ctx, entry)
	if err != nil {
		return fmt.Errorf("open payload %s: %w", entry.Hash, err)
	}
	defer rc.Close()
	return aw.WriteFile(ctx, rc)
}
