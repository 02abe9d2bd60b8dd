package archive

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// decoderPool reuses single-threaded zstd decoders across Decode calls.
type decoderPool struct {
	pool sync.Pool
}

var decoders = &decoderPool{}

func newDecoder(r io.Reader) (*zstd.Decoder, error) {
	return zstd.NewReader(r, zstd.WithDecoderConcurrency(1), zstd.WithDecoderLowmem(false))
}

// get returns a decoder reading from r and a release func.
func (p *decoderPool) get(r io.Reader) (*zstd.Decoder, func(), error) {
	dec, ok := p.pool.Get().(*zstd.Decoder)
	if ok {
		if err := dec.Reset(r); err != nil {
			dec.Close()
			return nil, nil, err
		}
	} else {
		var err error
		if dec, err = newDecoder(r); err != nil {
			return nil, nil, err
		}
	}
	return dec, func() {
		_ = dec.Reset(nil) //nolint:errcheck // clearing state before pool return
		p.pool.Put(dec)
	}, nil
}

// Reader is the payload cursor returned by Decode.
type Reader struct {
	br      *bufio.Reader
	release func()
}

// Read reads decompressed payload bytes.
func (r *Reader) Read(p []byte) (int, error) {
	if r.br == nil {
		return 0, os.ErrClosed
	}
	return r.br.Read(p)
}

// Close releases the decoder. It does not close the source stream.
func (r *Reader) Close() error {
	if r.release != nil {
		r.release()
		r.release = nil
	}
	r.br = nil
	return nil
}

// Decode reads the marker and header from r and returns a Reader positioned
// at the start of the payload. On error no header is returned.
func Decode(r io.Reader) (*Header, *Reader, error) {
	dec, release, err := decoders.get(r)
	if errors.Is(err, zstd.ErrMagicMismatch) {
		return nil, nil, fmt.Errorf("%w: %w", ErrBadMagic, err)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open zstd stream: %w", err)
	}
	br := bufio.NewReaderSize(dec, copyBufferSize)

	h, err := readHeader(br)
	if err != nil {
		release()
		return nil, nil, err
	}
	return h, &Reader{br: br, release: release}, nil
}

// ReadHeader decodes only the header of the archive at path.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path) //nolint:gosec // caller-chosen archive path
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, pr, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	pr.Close()
	return h, nil
}
