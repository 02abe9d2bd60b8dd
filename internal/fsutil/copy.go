// Package fsutil holds small filesystem helpers shared by the cache, index
// and archive packages.
package fsutil

import (
	"context"
	"errors"
	"io"
)

// ErrOverflow is returned when a byte count no longer fits in an int64.
var ErrOverflow = errors.New("fsutil: byte count overflow")

const defaultCopyBuffer = 32 * 1024

// CopyWithContext copies from src to dst until EOF or error, checking for
// context cancellation between reads. It returns the number of bytes written.
func CopyWithContext(ctx context.Context, dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	return copyBuffer(ctx, dst, src, -1, buf)
}

// CopyN copies exactly n bytes from src to dst. Reads never go past n, so
// src is left positioned at the next record. If src ends first the bytes
// copied so far are returned with io.ErrUnexpectedEOF.
func CopyN(ctx context.Context, dst io.Writer, src io.Reader, n int64, buf []byte) (int64, error) {
	if n < 0 {
		return 0, errors.New("fsutil: negative copy length")
	}
	written, err := copyBuffer(ctx, dst, src, n, buf)
	if err == nil && written < n {
		err = io.ErrUnexpectedEOF
	}
	return written, err
}

// copyBuffer is the shared read loop. A negative limit copies to EOF.
//
//nolint:gocognit // Follows stdlib io.Copy pattern
func copyBuffer(ctx context.Context, dst io.Writer, src io.Reader, limit int64, buf []byte) (int64, error) {
	if len(buf) == 0 {
		buf = make([]byte, defaultCopyBuffer)
	}
	var written int64
	for limit < 0 || written < limit {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		chunk := buf
		if limit >= 0 && int64(len(chunk)) > limit-written {
			chunk = chunk[:limit-written]
		}
		nr, er := src.Read(chunk)
		if nr > 0 {
			nw, ew := dst.Write(chunk[:nr])
			if nw > 0 {
				if written > (1<<63-1)-int64(nw) {
					return written, ErrOverflow
				}
				written += int64(nw)
			}
			if ew != nil {
				return written, ew
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if er != nil {
			if er == io.EOF {
				return written, nil
			}
			return written, er
		}
	}
	return written, nil
}
