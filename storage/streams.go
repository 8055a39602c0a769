package storage

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/thanos-io/objstore"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

// StreamSuffix is the object name suffix of framed arrow streams.
const StreamSuffix = ".arrows"

const fetchConcurrency = 16

// ListStreams returns the names of all stream objects under prefix, sorted.
func ListStreams(ctx context.Context, bucket objstore.BucketReader, prefix string) ([]string, error) {
	var names []string
	err := bucket.Iter(ctx, prefix, func(name string) error {
		if strings.HasSuffix(name, StreamSuffix) {
			names = append(names, name)
		}
		return nil
	}, objstore.WithRecursiveIter)
	if err != nil {
		return nil, errors.Wrapf(err, "list streams under %q", prefix)
	}
	slices.Sort(names)
	return names, nil
}

// ReadObject reads a whole object into memory.
func ReadObject(ctx context.Context, bucket objstore.BucketReader, name string) ([]byte, error) {
	rc, err := bucket.Get(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", name)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", name)
	}
	return data, nil
}

// ReadObjects reads the given objects concurrently. The result is in the
// order of names.
func ReadObjects(ctx context.Context, bucket objstore.BucketReader, names []string) ([][]byte, error) {
	objects := make([][]byte, len(names))

	errGroup, ctx := errgroup.WithContext(ctx)
	errGroup.SetLimit(fetchConcurrency)
	for i, name := range names {
		i, name := i, name
		errGroup.Go(func() error {
			data, err := ReadObject(ctx, bucket, name)
			if err != nil {
				return err
			}
			objects[i] = data
			return nil
		})
	}
	if err := errGroup.Wait(); err != nil {
		return nil, err
	}
	return objects, nil
}

// WriteObject uploads data as name.
func WriteObject(ctx context.Context, bucket objstore.Bucket, name string, data []byte) error {
	if err := bucket.Upload(ctx, name, bytes.NewReader(data)); err != nil {
		return errors.Wrapf(err, "upload %s", name)
	}
	return nil
}
