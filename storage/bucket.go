package storage

import (
	"context"
	"io"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"
	"github.com/thanos-io/objstore"
	"github.com/thanos-io/objstore/providers/filesystem"
	"github.com/thanos-io/objstore/providers/gcs"
	"gopkg.in/yaml.v3"
)

const (
	ProviderFilesystem = "filesystem"
	ProviderGCS        = "gcs"
	ProviderMemory     = "memory"

	component = "parquet-arrow-bridge"

	// defaultMaxReadSize splits large parquet reads into parallel range
	// requests.
	defaultMaxReadSize = 8 * 1024 * 1024
)

type GCSConfig struct {
	Bucket string `yaml:"bucket" mapstructure:"bucket"`
}

type BucketConfig struct {
	Provider  string    `mapstructure:"provider"`
	Directory string    `mapstructure:"directory"`
	GCS       GCSConfig `mapstructure:"gcs"`
}

// NewBucket opens the object store described by cfg.
func NewBucket(ctx context.Context, logger log.Logger, cfg BucketConfig) (objstore.Bucket, error) {
	switch cfg.Provider {
	case ProviderFilesystem, "":
		bucket, err := filesystem.NewBucket(cfg.Directory)
		if err != nil {
			return nil, errors.Wrapf(err, "open filesystem bucket %s", cfg.Directory)
		}
		return bucket, nil
	case ProviderGCS:
		conf, err := yaml.Marshal(cfg.GCS)
		if err != nil {
			return nil, errors.Wrap(err, "marshal gcs config")
		}
		bucket, err := gcs.NewBucket(ctx, logger, conf, component)
		if err != nil {
			return nil, errors.Wrapf(err, "open gcs bucket %s", cfg.GCS.Bucket)
		}
		return bucket, nil
	case ProviderMemory:
		return objstore.NewInMemBucket(), nil
	default:
		return nil, errors.Errorf("unknown bucket provider %q", cfg.Provider)
	}
}

// BucketReader reads a single object through range requests.
type BucketReader struct {
	ctx    context.Context
	name   string
	bucket objstore.BucketReader
}

func NewBucketReader(ctx context.Context, name string, bucket objstore.BucketReader) *BucketReader {
	return &BucketReader{
		ctx:    ctx,
		name:   name,
		bucket: bucket,
	}
}

func (r BucketReader) Size() (int64, error) {
	attrs, err := r.bucket.Attributes(r.ctx, r.name)
	if err != nil {
		return 0, errors.Wrapf(err, "read attributes of %s", r.name)
	}
	return attrs.Size, nil
}

func (r BucketReader) ReadAt(p []byte, off int64) (n int, err error) {
	rangeReader, err := r.bucket.GetRange(r.ctx, r.name, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer rangeReader.Close()

	return io.ReadFull(rangeReader, p)
}

// OpenParquetFile opens a parquet object without downloading it. Pages are
// fetched on demand through range requests.
func OpenParquetFile(ctx context.Context, bucket objstore.BucketReader, name string) (*parquet.File, error) {
	reader := NewBucketReader(ctx, name, bucket)
	size, err := reader.Size()
	if err != nil {
		return nil, err
	}
	f, err := parquet.OpenFile(NewChunkedReader(reader, defaultMaxReadSize), size)
	if err != nil {
		return nil, errors.Wrapf(err, "open parquet file %s", name)
	}
	return f, nil
}
