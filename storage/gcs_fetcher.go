package storage

import (
	"context"
	"io"
	"strings"
	"time"

	gcsStorage "cloud.google.com/go/storage"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/googleapis/gax-go/v2"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
)

// GCSStreamFetcher lists and downloads stream objects straight from GCS,
// retrying reads with exponential backoff.
type GCSStreamFetcher struct {
	bucket string
	client *gcsStorage.Client
	logger log.Logger
}

func NewGCSStreamFetcher(client *gcsStorage.Client, bucket string, logger log.Logger) *GCSStreamFetcher {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &GCSStreamFetcher{
		bucket: bucket,
		client: client,
		logger: logger,
	}
}

// ListStreams returns the sorted names of the stream objects under prefix
// updated at or after minUpdated.
func (f *GCSStreamFetcher) ListStreams(ctx context.Context, prefix string, minUpdated time.Time) ([]string, error) {
	// https://pkg.go.dev/cloud.google.com/go/storage@v1.28.1#Query.SetAttrSelection
	query := &gcsStorage.Query{Prefix: prefix}
	if err := query.SetAttrSelection([]string{"Name", "Updated"}); err != nil {
		return nil, err
	}

	var names []string
	it := f.client.Bucket(f.bucket).Objects(ctx, query)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "list objects of bucket %s", f.bucket)
		}
		if isRecentStream(attrs.Name, attrs.Updated, minUpdated) {
			names = append(names, attrs.Name)
		}
	}
	slices.Sort(names)
	return names, nil
}

func isRecentStream(name string, updated, minUpdated time.Time) bool {
	return strings.HasSuffix(name, StreamSuffix) && !updated.Before(minUpdated)
}

// FetchStreams downloads the named objects concurrently. Objects deleted
// since they were listed are skipped; the others keep the order of names.
func (f *GCSStreamFetcher) FetchStreams(ctx context.Context, names []string) ([][]byte, error) {
	streams := make([][]byte, len(names))

	var errGroup errgroup.Group
	errGroup.SetLimit(50)
	for i, name := range names {
		i, name := i, name
		errGroup.Go(func() error {
			data, err := f.readStream(ctx, name)
			if errors.Is(err, gcsStorage.ErrObjectNotExist) {
				level.Warn(f.logger).Log("msg", "stream not found", "object", name)
				return nil
			}
			if err != nil {
				return err
			}
			streams[i] = data
			return nil
		})
	}
	if err := errGroup.Wait(); err != nil {
		return nil, err
	}

	found := streams[:0]
	for _, stream := range streams {
		if stream != nil {
			found = append(found, stream)
		}
	}
	return found, nil
}

func (f *GCSStreamFetcher) readStream(ctx context.Context, object string) ([]byte, error) {
	readClient, err := f.client.Bucket(f.bucket).Object(object).Retryer(gcsStorage.WithBackoff(gax.Backoff{
		Initial:    2 * time.Second,
		Max:        300 * time.Second,
		Multiplier: 3,
	})).NewReader(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "open object %s", object)
	}
	defer readClient.Close()

	data, err := io.ReadAll(readClient)
	if err != nil {
		return nil, errors.Wrapf(err, "read object %s", object)
	}
	return data, nil
}
