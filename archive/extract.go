package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/meigma/assetcache/internal/fsutil"
)

// Namer chooses the destination path for the i-th file entry.
type Namer func(i int, entry FileEntry) (string, error)

// ExtractPayload reads each entry's declared length from r, in header order,
// into a file named by name. It returns the mapping from every game path to
// its extracted file. Zero-length entries produce empty files without
// reading. A short payload is ErrTruncated; files already written are left
// in place.
func ExtractPayload(ctx context.Context, h *Header, r io.Reader, name Namer) (map[string]string, error) {
	out := make(map[string]string)
	buf := make([]byte, copyBufferSize)

	for i, entry := range h.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dest, err := name(i, entry)
		if err != nil {
			return nil, fmt.Errorf("name entry %d: %w", i, err)
		}
		if err := extractEntry(ctx, dest, entry, r, buf); err != nil {
			return nil, err
		}
		for _, p := range entry.GamePaths {
			out[p] = dest
		}
	}
	return out, nil
}

func extractEntry(ctx context.Context, dest string, entry FileEntry, r io.Reader, buf []byte) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // path chosen by Namer
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	var n int64
	if entry.Length > 0 {
		n, err = fsutil.CopyN(ctx, f, r, entry.Length, buf)
	}
	closeErr := f.Close()

	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return err
	case errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %s: %w", ErrTruncated, entry.Hash, err)
	case err != nil:
		return fmt.Errorf("extract %s: %w", entry.Hash, err)
	case n != entry.Length:
		return fmt.Errorf("%w: %s got %d of %d bytes", ErrTruncated, entry.Hash, n, entry.Length)
	case closeErr != nil:
		return fmt.Errorf("close %s: %w", dest, closeErr)
	}
	return nil
}
