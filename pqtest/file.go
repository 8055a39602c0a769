// Package pqtest builds in-memory parquet files for tests.
package pqtest

import (
	"bytes"

	"github.com/segmentio/parquet-go"

	"Shopify/parquet-arrow-bridge/schema"
)

// CreateFile writes partitions as consecutive row groups of a parquet file
// with the layout of s. Empty partitions produce no row group.
func CreateFile(s schema.Schema, partitions ...[]parquet.Row) (*parquet.File, error) {
	data, err := Encode(s, partitions...)
	if err != nil {
		return nil, err
	}
	return parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
}

// Encode is like CreateFile but returns the encoded file.
func Encode(s schema.Schema, partitions ...[]parquet.Row) ([]byte, error) {
	var buffer bytes.Buffer
	writer := parquet.NewWriter(&buffer, s.ParquetSchema(), parquet.PageBufferSize(4*1024))

	for _, rows := range partitions {
		if len(rows) == 0 {
			continue
		}
		if _, err := writer.WriteRows(rows); err != nil {
			return nil, err
		}
		if err := writer.Flush(); err != nil {
			return nil, err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
