// Package archive encodes and decodes character data archives.
//
// An archive is a single zstd stream containing a header followed by the raw
// bytes of every file entry, concatenated in header order without framing:
//
//	magic "MCDF" | marker u8
//	formatVersion i32
//	description str | appearanceData str | scalingData str
//	fileCount i32 { hash str | length i64 | pathCount i32 { path str } }
//	swapCount i32 { pathCount i32 { path str } | target str }
//	manipulationData str
//	payload
//
// Strings are a uvarint byte length followed by UTF-8 bytes. Integers are
// little endian. The payload is a forward-only cursor, so extraction is
// strictly sequential.
package archive

import (
	"errors"
	"fmt"
)

const (
	// Magic opens every archive.
	Magic = "MCDF"

	// MarkerVersion follows the magic and identifies the framing.
	MarkerVersion byte = 1

	// CurrentVersion is the header format version written by this package.
	CurrentVersion int32 = 1
)

// Decoder bounds. Anything larger is treated as a malformed header.
const (
	maxStringLen = 64 << 20
	maxEntries   = 1 << 20
	maxPaths     = 1 << 16

	// preallocLimit caps slice capacity taken from a declared count.
	preallocLimit = 1024
)

var (
	// ErrBadMagic is returned when the stream does not start with Magic.
	ErrBadMagic = errors.New("archive: bad magic")

	// ErrUnsupportedVersion is returned for unknown marker or format versions.
	ErrUnsupportedVersion = errors.New("archive: unsupported version")

	// ErrMalformedHeader is returned when header fields are out of bounds or
	// the header ends early.
	ErrMalformedHeader = errors.New("archive: malformed header")

	// ErrTruncated is returned when the payload ends before an entry's
	// declared length has been read.
	ErrTruncated = errors.New("archive: truncated payload")

	// ErrLengthMismatch is returned by the writer when an entry's source does
	// not provide exactly its declared length, or entries are missing.
	ErrLengthMismatch = errors.New("archive: payload length mismatch")
)

// Header describes an archive. Empty lists decode as nil.
type Header struct {
	Version int32

	// Description, AppearanceData and ScalingData are opaque to the codec.
	Description    string
	AppearanceData string
	ScalingData    string

	Files            []FileEntry
	FileSwaps        []FileSwapEntry
	ManipulationData string
}

// FileEntry is one embedded file. GamePaths are all logical destinations
// that share the content.
type FileEntry struct {
	Hash      string
	Length    int64
	GamePaths []string
}

// FileSwapEntry redirects GamePaths to Target without embedding bytes.
type FileSwapEntry struct {
	GamePaths []string
	Target    string
}

// PayloadLength returns the sum of all declared file lengths.
func (h *Header) PayloadLength() int64 {
	var total int64
	for _, f := range h.Files {
		total += f.Length
	}
	return total
}

// Validate checks that h can be encoded and decoded within the codec bounds.
func (h *Header) Validate() error {
	if h.Version < 1 || h.Version > CurrentVersion {
		return fmt.Errorf("%w: format version %d", ErrUnsupportedVersion, h.Version)
	}
	if len(h.Files) > maxEntries || len(h.FileSwaps) > maxEntries {
		return fmt.Errorf("%w: too many entries", ErrMalformedHeader)
	}
	for i, f := range h.Files {
		if f.Length < 0 {
			return fmt.Errorf("%w: file %d has negative length", ErrMalformedHeader, i)
		}
		if f.Hash == "" {
			return fmt.Errorf("%w: file %d has no hash", ErrMalformedHeader, i)
		}
		if len(f.GamePaths) > maxPaths {
			return fmt.Errorf("%w: file %d has too many paths", ErrMalformedHeader, i)
		}
	}
	for i, s := range h.FileSwaps {
		if len(s.GamePaths) > maxPaths {
			return fmt.Errorf("%w: swap %d has too many paths", ErrMalformedHeader, i)
		}
	}
	return nil
}
