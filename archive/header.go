package archive

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// headerWriter accumulates the first write error so encoding reads linearly.
type headerWriter struct {
	w   io.Writer
	buf []byte
	err error
}

func (hw *headerWriter) write(p []byte) {
	if hw.err != nil {
		return
	}
	_, hw.err = hw.w.Write(p)
}

func (hw *headerWriter) int32(v int32) {
	hw.buf = binary.LittleEndian.AppendUint32(hw.buf[:0], uint32(v)) //nolint:gosec // two's complement round-trip
	hw.write(hw.buf)
}

func (hw *headerWriter) int64(v int64) {
	hw.buf = binary.LittleEndian.AppendUint64(hw.buf[:0], uint64(v)) //nolint:gosec // two's complement round-trip
	hw.write(hw.buf)
}

func (hw *headerWriter) string(s string) {
	hw.buf = binary.AppendUvarint(hw.buf[:0], uint64(len(s)))
	hw.write(hw.buf)
	hw.write([]byte(s))
}

func (hw *headerWriter) paths(paths []string) {
	hw.int32(int32(len(paths))) //nolint:gosec // bounded by Validate
	for _, p := range paths {
		hw.string(p)
	}
}

func writeHeader(w io.Writer, h *Header) error {
	if err := h.Validate(); err != nil {
		return err
	}
	hw := &headerWriter{w: w, buf: make([]byte, 0, binary.MaxVarintLen64)}

	hw.write([]byte(Magic))
	hw.write([]byte{MarkerVersion})
	hw.int32(h.Version)
	hw.string(h.Description)
	hw.string(h.AppearanceData)
	hw.string(h.ScalingData)

	hw.int32(int32(len(h.Files))) //nolint:gosec // bounded by Validate
	for _, f := range h.Files {
		hw.string(f.Hash)
		hw.int64(f.Length)
		hw.paths(f.GamePaths)
	}

	hw.int32(int32(len(h.FileSwaps))) //nolint:gosec // bounded by Validate
	for _, s := range h.FileSwaps {
		hw.paths(s.GamePaths)
		hw.string(s.Target)
	}

	hw.string(h.ManipulationData)
	return hw.err
}

// headerReader mirrors headerWriter for decoding.
type headerReader struct {
	r   *bufio.Reader
	buf [8]byte
	err error
}

func (hr *headerReader) fail(err error) {
	if hr.err != nil {
		return
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	hr.err = fmt.Errorf("%w: %w", ErrMalformedHeader, err)
}

func (hr *headerReader) full(p []byte) {
	if hr.err != nil {
		return
	}
	if _, err := io.ReadFull(hr.r, p); err != nil {
		hr.fail(err)
	}
}

func (hr *headerReader) int32() int32 {
	hr.full(hr.buf[:4])
	if hr.err != nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(hr.buf[:4])) //nolint:gosec // two's complement round-trip
}

func (hr *headerReader) int64() int64 {
	hr.full(hr.buf[:8])
	if hr.err != nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(hr.buf[:8])) //nolint:gosec // two's complement round-trip
}

func (hr *headerReader) count(limit int, what string) int {
	n := hr.int32()
	if hr.err != nil {
		return 0
	}
	if n < 0 || int(n) > limit {
		hr.fail(fmt.Errorf("%s count %d out of range", what, n))
		return 0
	}
	return int(n)
}

func (hr *headerReader) string() string {
	if hr.err != nil {
		return ""
	}
	n, err := binary.ReadUvarint(hr.r)
	if err != nil {
		hr.fail(err)
		return ""
	}
	if n > maxStringLen {
		hr.fail(fmt.Errorf("string length %d out of range", n))
		return ""
	}
	if n == 0 {
		return ""
	}
	b := make([]byte, n)
	hr.full(b)
	if hr.err != nil {
		return ""
	}
	return string(b)
}

func (hr *headerReader) paths() []string {
	n := hr.count(maxPaths, "path")
	if n == 0 {
		return nil
	}
	out := make([]string, 0, min(n, preallocLimit))
	for range n {
		out = append(out, hr.string())
		if hr.err != nil {
			return nil
		}
	}
	return out
}

// readMarker checks the magic and marker version.
func readMarker(r *bufio.Reader) error {
	var marker [len(Magic) + 1]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: stream too short", ErrBadMagic)
		}
		return fmt.Errorf("%w: %w", ErrBadMagic, err)
	}
	if string(marker[:len(Magic)]) != Magic {
		return fmt.Errorf("%w: %q", ErrBadMagic, marker[:len(Magic)])
	}
	if marker[len(Magic)] != MarkerVersion {
		return fmt.Errorf("%w: marker %d", ErrUnsupportedVersion, marker[len(Magic)])
	}
	return nil
}

func readHeader(r *bufio.Reader) (*Header, error) {
	if err := readMarker(r); err != nil {
		return nil, err
	}
	hr := &headerReader{r: r}

	h := &Header{Version: hr.int32()}
	if hr.err != nil {
		return nil, hr.err
	}
	if h.Version < 1 || h.Version > CurrentVersion {
		return nil, fmt.Errorf("%w: format version %d", ErrUnsupportedVersion, h.Version)
	}

	h.Description = hr.string()
	h.AppearanceData = hr.string()
	h.ScalingData = hr.string()

	if n := hr.count(maxEntries, "file"); n > 0 {
		h.Files = make([]FileEntry, 0, min(n, preallocLimit))
		for i := range n {
			f := FileEntry{Hash: hr.string(), Length: hr.int64()}
			if hr.err == nil && f.Length < 0 {
				hr.fail(fmt.Errorf("file %d has negative length %d", i, f.Length))
			}
			f.GamePaths = hr.paths()
			if hr.err != nil {
				return nil, hr.err
			}
			h.Files = append(h.Files, f)
		}
	}

	if n := hr.count(maxEntries, "swap"); n > 0 {
		h.FileSwaps = make([]FileSwapEntry, 0, min(n, preallocLimit))
		for range n {
			s := FileSwapEntry{GamePaths: hr.paths()}
			s.Target = hr.string()
			if hr.err != nil {
				return nil, hr.err
			}
			h.FileSwaps = append(h.FileSwaps, s)
		}
	}

	h.ManipulationData = hr.string()
	if hr.err != nil {
		return nil, hr.err
	}
	return h, nil
}
