package engine

import (
	"context"
	"io"
	"sync"

	"github.com/segmentio/parquet-go"
)

const (
	prefetchChunkSize = 256
	prefetchChunks    = 4
)

type rowChunk struct {
	rows []parquet.Row
	err  error
}

// prefetcher reads rows ahead of the consumer on a separate goroutine.
// Rows are cloned before they are handed over, so they never reference
// pages of the underlying reader.
type prefetcher struct {
	rows   parquet.Rows
	chunks chan rowChunk

	ctx    context.Context
	cancel context.CancelFunc

	current []parquet.Row
	err     error

	closeOnce sync.Once
	closeErr  error
}

func newPrefetcher(ctx context.Context, rows parquet.Rows) *prefetcher {
	p := &prefetcher{
		rows:   rows,
		chunks: make(chan rowChunk, prefetchChunks),
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	go p.pullNextChunk()

	return p
}

func (p *prefetcher) pullNextChunk() {
	defer close(p.chunks)
	for {
		buf := make([]parquet.Row, prefetchChunkSize)
		n, err := p.rows.ReadRows(buf)
		for i := 0; i < n; i++ {
			buf[i] = buf[i].Clone()
		}
		select {
		case <-p.ctx.Done():
			return
		case p.chunks <- rowChunk{rows: buf[:n], err: err}:
		}
		if err != nil {
			return
		}
	}
}

func (p *prefetcher) Next() (parquet.Row, error) {
	for len(p.current) == 0 {
		if p.err != nil {
			return nil, p.err
		}
		chunk, ok := <-p.chunks
		if !ok {
			if err := p.ctx.Err(); err != nil {
				p.err = err
			} else {
				p.err = io.EOF
			}
			continue
		}
		p.current, p.err = chunk.rows, chunk.err
	}
	row := p.current[0]
	p.current = p.current[1:]
	return row, nil
}

// Close stops the reading goroutine and closes the underlying rows.
func (p *prefetcher) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		for range p.chunks {
		}
		p.current = nil
		p.closeErr = p.rows.Close()
	})
	return p.closeErr
}
