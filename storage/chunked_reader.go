package storage

import (
	"io"

	"golang.org/x/sync/errgroup"
)

// ChunkedReader splits reads larger than maxReadSize into concurrent reads
// of at most maxReadSize bytes.
type ChunkedReader struct {
	maxReadSize      int
	concurrencyLimit int
	reader           io.ReaderAt
}

func NewChunkedReader(reader io.ReaderAt, maxReadSize int) *ChunkedReader {
	return &ChunkedReader{
		maxReadSize:      maxReadSize,
		concurrencyLimit: 16,
		reader:           reader,
	}
}

func (r ChunkedReader) ReadAt(p []byte, off int64) (n int, err error) {
	if len(p) <= r.maxReadSize {
		return r.reader.ReadAt(p, off)
	}

	var errGroup errgroup.Group
	errGroup.SetLimit(r.concurrencyLimit)
	for bytesRead := 0; bytesRead < len(p); bytesRead += r.maxReadSize {
		readUntil := minInt(bytesRead+r.maxReadSize, len(p))
		part := p[bytesRead:readUntil]
		partOffset := int64(bytesRead) + off
		errGroup.Go(func() error {
			_, err := r.reader.ReadAt(part, partOffset)
			return err
		})
	}
	if err := errGroup.Wait(); err != nil {
		return 0, err
	}
	return len(p), nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
