package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	gcsStorage "cloud.google.com/go/storage"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet/file"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/thanos-io/objstore"

	"Shopify/parquet-arrow-bridge/bridge"
	"Shopify/parquet-arrow-bridge/codec"
	"Shopify/parquet-arrow-bridge/engine"
	"Shopify/parquet-arrow-bridge/schema"
	"Shopify/parquet-arrow-bridge/storage"
)

type env struct {
	bucket     objstore.Bucket
	bridge     *bridge.Bridge
	schema     schema.Schema
	partitions int
	progress   *progress
	logger     log.Logger
}

// progress tracks finished partition tasks of the running command.
type progress struct {
	mu       sync.Mutex
	bar      *progressbar.ProgressBar
	disabled bool
}

func (p *progress) start(numTasks int, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disabled {
		return
	}
	p.bar = progressbar.Default(int64(numTasks), description)
}

func (p *progress) taskDone(*engine.TaskContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

func (e *env) checkSchema(s schema.Schema) error {
	if e.schema.Len() > 0 && !e.schema.Equal(s) {
		return errors.Errorf("input schema %s does not match configured schema %s", s, e.schema)
	}
	return nil
}

func (e *env) encode(ctx context.Context, input, output string) error {
	f, err := storage.OpenParquetFile(ctx, e.bucket, input)
	if err != nil {
		return err
	}
	ds, err := engine.FromParquetFile(f)
	if err != nil {
		return err
	}
	if err := e.checkSchema(ds.Schema()); err != nil {
		return err
	}

	level.Info(e.logger).Log("msg", "encoding parquet object", "object", input, "row_groups", ds.NumPartitions(), "rows", f.NumRows())
	e.progress.start(ds.NumPartitions(), "encode")
	stream, err := e.bridge.EncodeDataset(ctx, ds)
	if err != nil {
		return err
	}
	if err := storage.WriteObject(ctx, e.bucket, output, stream); err != nil {
		return err
	}
	level.Info(e.logger).Log(
		"msg", "wrote stream",
		"object", output,
		"size", humanize.Bytes(uint64(len(stream))),
		"peak_memory", humanize.Bytes(uint64(e.bridge.PeakMemory())),
	)
	return nil
}

func (e *env) decode(ctx context.Context, input, output string, partitions int) error {
	if partitions <= 0 {
		partitions = e.partitions
	}
	stream, err := storage.ReadObject(ctx, e.bucket, input)
	if err != nil {
		return err
	}
	ds, err := e.bridge.DecodeStream(bytes.NewReader(stream), e.schema, partitions)
	if err != nil {
		return err
	}

	level.Info(e.logger).Log("msg", "decoding stream", "object", input, "size", humanize.Bytes(uint64(len(stream))), "partitions", partitions)
	return e.writeParquet(ctx, ds, output, "decode")
}

func (e *env) mergeStreams(ctx context.Context, prefix, output, gcsBucket string, maxAge time.Duration) error {
	var (
		names   []string
		streams [][]byte
		err     error
	)
	if gcsBucket != "" {
		names, streams, err = e.fetchGCSStreams(ctx, gcsBucket, prefix, maxAge)
	} else {
		names, err = storage.ListStreams(ctx, e.bucket, prefix)
		if err == nil {
			streams, err = storage.ReadObjects(ctx, e.bucket, names)
		}
	}
	if err != nil {
		return err
	}
	if len(streams) == 0 {
		return errors.Errorf("no streams found under %q", prefix)
	}

	ds, err := e.bridge.DecodeStreams(streams, e.schema)
	if err != nil {
		return err
	}
	level.Info(e.logger).Log("msg", "merging streams", "prefix", prefix, "streams", len(names))
	return e.writeParquet(ctx, ds, output, "merge")
}

func (e *env) fetchGCSStreams(ctx context.Context, bucket, prefix string, maxAge time.Duration) ([]string, [][]byte, error) {
	client, err := gcsStorage.NewClient(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create gcs client")
	}
	defer client.Close()

	var minUpdated time.Time
	if maxAge > 0 {
		minUpdated = time.Now().Add(-maxAge)
	}
	fetcher := storage.NewGCSStreamFetcher(client, bucket, e.logger)
	names, err := fetcher.ListStreams(ctx, prefix, minUpdated)
	if err != nil {
		return nil, nil, err
	}
	streams, err := fetcher.FetchStreams(ctx, names)
	if err != nil {
		return nil, nil, err
	}
	return names, streams, nil
}

func (e *env) writeParquet(ctx context.Context, ds *engine.Dataset, output, description string) error {
	e.progress.start(ds.NumPartitions(), description)

	var buf bytes.Buffer
	if err := e.bridge.Engine().WriteParquet(ctx, ds, &buf); err != nil {
		return err
	}
	if err := storage.WriteObject(ctx, e.bucket, output, buf.Bytes()); err != nil {
		return err
	}
	level.Info(e.logger).Log("msg", "wrote parquet object", "object", output, "size", humanize.Bytes(uint64(buf.Len())))
	return nil
}

type objectInfo struct {
	Schema    string
	TimeZone  string
	Batches   int
	RowGroups int
	Rows      int64
	Size      int
}

func (e *env) inspect(ctx context.Context, w io.Writer, input string) error {
	data, err := storage.ReadObject(ctx, e.bucket, input)
	if err != nil {
		return err
	}

	var info objectInfo
	if strings.HasSuffix(input, ".parquet") {
		info, err = inspectParquet(data)
	} else {
		info, err = inspectStream(ctx, e.bridge, data)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "object: %s\n", input)
	fmt.Fprintf(w, "size: %s\n", humanize.Bytes(uint64(info.Size)))
	fmt.Fprintf(w, "rows: %s\n", humanize.Comma(info.Rows))
	if info.RowGroups > 0 {
		fmt.Fprintf(w, "row groups: %d\n", info.RowGroups)
	} else {
		fmt.Fprintf(w, "batches: %d\n", info.Batches)
	}
	if info.TimeZone != "" {
		fmt.Fprintf(w, "time zone: %s\n", info.TimeZone)
	}
	fmt.Fprintf(w, "%s\n", info.Schema)
	return nil
}

func inspectStream(ctx context.Context, b *bridge.Bridge, data []byte) (objectInfo, error) {
	sr, err := codec.NewStreamReader(bytes.NewReader(data), nil)
	if err != nil {
		return objectInfo{}, err
	}
	batches, err := codec.CollectBatches(sr)
	if err != nil {
		return objectInfo{}, err
	}
	s, tz, err := schema.FromArrow(sr.Schema())
	if err != nil {
		return objectInfo{}, err
	}
	rows, err := b.Engine().Count(ctx, b.DecodeToDataset([][][]byte{batches}, s))
	if err != nil {
		return objectInfo{}, err
	}
	return objectInfo{
		Schema:   sr.Schema().String(),
		TimeZone: tz,
		Batches:  len(batches),
		Rows:     rows,
		Size:     len(data),
	}, nil
}

func inspectParquet(data []byte) (objectInfo, error) {
	pqReader, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return objectInfo{}, errors.Wrap(err, "open parquet file")
	}
	defer pqReader.Close()

	fileReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{
		Parallel:  true,
		BatchSize: 4 * 1024,
	}, memory.DefaultAllocator)
	if err != nil {
		return objectInfo{}, errors.Wrap(err, "open arrow reader")
	}
	as, err := fileReader.Schema()
	if err != nil {
		return objectInfo{}, errors.Wrap(err, "read arrow schema")
	}
	return objectInfo{
		Schema:    as.String(),
		RowGroups: pqReader.NumRowGroups(),
		Rows:      pqReader.NumRows(),
		Size:      len(data),
	}, nil
}
