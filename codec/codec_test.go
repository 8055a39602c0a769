package codec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/ipc"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/require"

	"Shopify/parquet-arrow-bridge/arena"
	"Shopify/parquet-arrow-bridge/schema"
)

var idNameSchema = schema.MustNew(
	schema.Field{Name: "id", Type: schema.Int32},
	schema.Field{Name: "name", Type: schema.String, Nullable: true},
)

var mixedSchema = schema.MustNew(
	schema.Field{Name: "flag", Type: schema.Boolean, Nullable: true},
	schema.Field{Name: "tiny", Type: schema.Int8},
	schema.Field{Name: "small", Type: schema.Int16, Nullable: true},
	schema.Field{Name: "id", Type: schema.Int32},
	schema.Field{Name: "big", Type: schema.Int64, Nullable: true},
	schema.Field{Name: "ratio", Type: schema.Float32},
	schema.Field{Name: "value", Type: schema.Float64, Nullable: true},
	schema.Field{Name: "name", Type: schema.String, Nullable: true},
	schema.Field{Name: "payload", Type: schema.Binary, Nullable: true},
	schema.Field{Name: "day", Type: schema.Date},
	schema.Field{Name: "ts", Type: schema.Timestamp, Nullable: true},
)

func mixedRows(n int) []parquet.Row {
	start := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	rows := make([]parquet.Row, 0, n)
	for i := 0; i < n; i++ {
		var (
			flag, small, big, value, name, payload, ts any
		)
		if i%3 != 0 {
			flag = i%2 == 0
			big = int64(i) << 33
			name = fmt.Sprintf("row-%d", i)
			ts = start.Add(time.Duration(i) * time.Minute)
		}
		if i%4 != 0 {
			small = int16(-i)
			value = float64(i) / 3
			payload = []byte{byte(i), byte(i + 1)}
		}
		rows = append(rows, mixedSchema.MustMakeRow(
			flag, int8(i%100), small, int32(i), big, float32(i)/2, value, name, payload, start.AddDate(0, 0, i), ts,
		))
	}
	return rows
}

type testTask struct {
	ctx       context.Context
	listeners []func() error
	completed int
}

func newTestTask(ctx context.Context) *testTask {
	return &testTask{ctx: ctx}
}

func (t *testTask) Context() context.Context { return t.ctx }

func (t *testTask) AddCompletionListener(fn func() error) {
	t.listeners = append(t.listeners, fn)
}

func (t *testTask) complete() error {
	t.completed++
	var first error
	for i := len(t.listeners) - 1; i >= 0; i-- {
		if err := t.listeners[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func encode(t *testing.T, s schema.Schema, rows []parquet.Row, opts EncoderOptions, mem *arena.Arena) [][]byte {
	enc, err := NewBatchEncoder(nil, RowsOf(rows...), s, opts, mem)
	require.NoError(t, err)
	batches, err := CollectBatches(enc)
	require.NoError(t, err)
	return batches
}

func decode(t *testing.T, s schema.Schema, it BatchIterator, timeZoneID string, mem *arena.Arena) []parquet.Row {
	dec, err := NewRowDecoder(nil, it, s, timeZoneID, mem)
	require.NoError(t, err)
	rows, err := CollectRows(dec)
	require.NoError(t, err)
	return rows
}

func frame(t *testing.T, s schema.Schema, timeZoneID string, batches [][]byte) []byte {
	var buf bytes.Buffer
	sw, err := NewStreamWriter(&buf, s, timeZoneID)
	require.NoError(t, err)
	require.NoError(t, sw.WriteBatches(batches))
	require.NoError(t, sw.End())
	require.Equal(t, int64(buf.Len()), sw.BytesWritten())
	return buf.Bytes()
}

func requireRowsEqual(t *testing.T, s schema.Schema, expected, actual []parquet.Row) {
	require.Len(t, actual, len(expected))
	for i := range expected {
		want, err := s.Values(expected[i])
		require.NoError(t, err)
		got, err := s.Values(actual[i])
		require.NoError(t, err)
		require.Equal(t, want, got, "row %d", i)
		for col := range actual[i] {
			require.Equal(t, col, actual[i][col].Column())
			require.Equal(t, expected[i][col].DefinitionLevel(), actual[i][col].DefinitionLevel())
		}
	}
}

func TestIDNameScenario(t *testing.T) {
	rows := []parquet.Row{
		idNameSchema.MustMakeRow(int32(1), "a"),
		idNameSchema.MustMakeRow(int32(2), nil),
		idNameSchema.MustMakeRow(int32(3), "c"),
	}
	batches := encode(t, idNameSchema, rows, EncoderOptions{MaxRecordsPerBatch: 2, TimeZoneID: "UTC"}, nil)
	require.Len(t, batches, 2)
	require.Len(t, decode(t, idNameSchema, BatchesOf(batches[0]), "UTC", nil), 2)
	require.Len(t, decode(t, idNameSchema, BatchesOf(batches[1]), "UTC", nil), 1)

	stream := frame(t, idNameSchema, "UTC", batches)
	as, err := idNameSchema.ArrowSchema("UTC")
	require.NoError(t, err)
	sr, err := NewStreamReader(bytes.NewReader(stream), as)
	require.NoError(t, err)

	decoded := decode(t, idNameSchema, sr, "UTC", nil)
	requireRowsEqual(t, idNameSchema, rows, decoded)
	require.True(t, decoded[1][1].IsNull())
	require.False(t, decoded[0][1].IsNull())
	require.Equal(t, 2, sr.NumBatches())
}

func TestRoundTrip(t *testing.T) {
	rows := mixedRows(25)
	cases := []struct {
		maxRecords      int
		expectedBatches int
	}{
		{maxRecords: 1, expectedBatches: 25},
		{maxRecords: 3, expectedBatches: 9},
		{maxRecords: 5, expectedBatches: 5},
		{maxRecords: 25, expectedBatches: 1},
		{maxRecords: 100, expectedBatches: 1},
		{maxRecords: 0, expectedBatches: 1},
		{maxRecords: -1, expectedBatches: 1},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("max records %d", tc.maxRecords), func(t *testing.T) {
			checked := memory.NewCheckedAllocator(memory.NewGoAllocator())
			defer checked.AssertSize(t, 0)
			root := arena.NewRoot(checked, 0)

			encMem, err := root.NewChild("encode", 0)
			require.NoError(t, err)
			batches := encode(t, mixedSchema, rows, EncoderOptions{MaxRecordsPerBatch: tc.maxRecords, TimeZoneID: "America/New_York"}, encMem)
			require.Len(t, batches, tc.expectedBatches)
			require.True(t, encMem.Released())

			for _, batch := range batches {
				n := len(decode(t, mixedSchema, BatchesOf(batch), "America/New_York", nil))
				if tc.maxRecords > 0 {
					require.LessOrEqual(t, n, tc.maxRecords)
				}
			}

			decMem, err := root.NewChild("decode", 0)
			require.NoError(t, err)
			stream := frame(t, mixedSchema, "America/New_York", batches)
			sr, err := NewStreamReader(bytes.NewReader(stream), nil)
			require.NoError(t, err)
			ts := sr.Schema().Field(10).Type.(*arrow.TimestampType)
			require.Equal(t, "America/New_York", ts.TimeZone)

			requireRowsEqual(t, mixedSchema, rows, decode(t, mixedSchema, sr, "America/New_York", decMem))
			require.True(t, decMem.Released())
			require.Equal(t, 0, root.NumChildren())
			require.NoError(t, root.Release())
		})
	}
}

func TestEmptyInput(t *testing.T) {
	mem := arena.NewRoot(nil, 0)
	batches := encode(t, idNameSchema, nil, EncoderOptions{MaxRecordsPerBatch: 10}, mem)
	require.Empty(t, batches)
	require.True(t, mem.Released())

	stream := frame(t, idNameSchema, "UTC", batches)
	require.True(t, bytes.HasSuffix(stream, []byte{0, 0, 0, 0}))

	sr, err := NewStreamReader(bytes.NewReader(stream), nil)
	require.NoError(t, err)
	dec, err := NewRowDecoder(nil, sr, idNameSchema, "UTC", nil)
	require.NoError(t, err)

	_, err = dec.Next()
	require.Equal(t, io.EOF, err)
	_, err = dec.Next()
	require.Equal(t, io.EOF, err)
}

func TestEncoderKeepsReturningEOF(t *testing.T) {
	enc, err := NewBatchEncoder(nil, RowsOf(idNameSchema.MustMakeRow(int32(1), "a")), idNameSchema, EncoderOptions{}, nil)
	require.NoError(t, err)

	_, err = enc.Next()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = enc.Next()
		require.Equal(t, io.EOF, err)
	}
}

func TestStreamTermination(t *testing.T) {
	rows := []parquet.Row{
		idNameSchema.MustMakeRow(int32(1), "a"),
		idNameSchema.MustMakeRow(int32(2), nil),
	}
	batches := encode(t, idNameSchema, rows, EncoderOptions{MaxRecordsPerBatch: 1}, nil)
	stream := frame(t, idNameSchema, "UTC", batches)

	cases := []struct {
		name      string
		stream    []byte
		expectErr bool
	}{
		{name: "terminated", stream: stream},
		{
			name:   "continuation terminator",
			stream: append(append([]byte{}, stream[:len(stream)-4]...), 0xFF, 0xFF, 0xFF, 0xFF, 0, 0, 0, 0),
		},
		{name: "missing terminator", stream: stream[:len(stream)-4], expectErr: true},
		{name: "truncated batch", stream: stream[:len(stream)-12], expectErr: true},
		{name: "truncated prefix", stream: stream[:len(stream)-2], expectErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mem := arena.NewRoot(nil, 0)
			sr, err := NewStreamReader(bytes.NewReader(tc.stream), nil)
			require.NoError(t, err)
			dec, err := NewRowDecoder(nil, sr, idNameSchema, "UTC", mem)
			require.NoError(t, err)

			decoded, err := CollectRows(dec)
			if !tc.expectErr {
				require.NoError(t, err)
				requireRowsEqual(t, idNameSchema, rows, decoded)
			} else {
				var de *DeserializationError
				require.True(t, errors.As(err, &de), "unexpected error %v", err)
				require.Nil(t, de.Suppressed)
				_, err = dec.Next()
				require.Equal(t, ErrClosed, err)
			}
			require.True(t, mem.Released())
		})
	}
}

func TestSchemaMismatch(t *testing.T) {
	batches := encode(t, idNameSchema, []parquet.Row{idNameSchema.MustMakeRow(int32(1), "a")}, EncoderOptions{}, nil)
	stream := frame(t, idNameSchema, "UTC", batches)

	other := schema.MustNew(
		schema.Field{Name: "id", Type: schema.Int64},
		schema.Field{Name: "name", Type: schema.String, Nullable: true},
	)
	expected, err := other.ArrowSchema("UTC")
	require.NoError(t, err)

	_, err = NewStreamReader(bytes.NewReader(stream), expected)
	var de *DeserializationError
	require.True(t, errors.As(err, &de))
}

func TestBatchLayoutMismatch(t *testing.T) {
	batches := encode(t, idNameSchema, []parquet.Row{
		idNameSchema.MustMakeRow(int32(1), "a"),
		idNameSchema.MustMakeRow(int32(2), nil),
	}, EncoderOptions{}, nil)
	ids := schema.MustNew(schema.Field{Name: "id", Type: schema.Int32})
	idBatches := encode(t, ids, []parquet.Row{ids.MustMakeRow(int32(1))}, EncoderOptions{}, nil)

	cases := []struct {
		name    string
		schema  schema.Schema
		batches [][]byte
	}{
		{
			name: "more fields than the batch has columns",
			schema: schema.MustNew(
				schema.Field{Name: "id", Type: schema.Int32},
				schema.Field{Name: "name", Type: schema.String, Nullable: true},
				schema.Field{Name: "ts", Type: schema.Timestamp},
			),
			batches: batches,
		},
		{
			name:    "more buffers than the batch has",
			schema:  schema.MustNew(schema.Field{Name: "name", Type: schema.String}),
			batches: idBatches,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mem := arena.NewRoot(nil, 0)
			dec, err := NewRowDecoder(nil, BatchesOf(tc.batches...), tc.schema, "UTC", mem)
			require.NoError(t, err)

			_, err = dec.Next()
			var de *DeserializationError
			require.True(t, errors.As(err, &de), "unexpected error %v", err)
			require.True(t, mem.Released())
		})
	}
}

func TestMalformedBatches(t *testing.T) {
	batches := encode(t, idNameSchema, []parquet.Row{idNameSchema.MustMakeRow(int32(1), "a")}, EncoderOptions{}, nil)
	as, err := idNameSchema.ArrowSchema("UTC")
	require.NoError(t, err)
	header, err := SchemaHeader(as, memory.DefaultAllocator)
	require.NoError(t, err)

	cases := []struct {
		name  string
		batch []byte
	}{
		{name: "garbage", batch: []byte("definitely not an arrow batch")},
		{name: "empty", batch: []byte{}},
		{name: "truncated", batch: batches[0][:len(batches[0])-3]},
		{name: "trailing bytes", batch: append(append([]byte{}, batches[0]...), 1, 2, 3)},
		{name: "schema message", batch: header},
		{name: "end of stream", batch: []byte{0, 0, 0, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mem := arena.NewRoot(nil, 0)
			dec, err := NewRowDecoder(nil, BatchesOf(tc.batch), idNameSchema, "UTC", mem)
			require.NoError(t, err)

			_, err = dec.Next()
			var de *DeserializationError
			require.True(t, errors.As(err, &de), "unexpected error %v", err)
			require.True(t, mem.Released())
		})
	}
}

func TestConversionErrors(t *testing.T) {
	s := schema.MustNew(
		schema.Field{Name: "id", Type: schema.Int32},
		schema.Field{Name: "tiny", Type: schema.Int8, Nullable: true},
		schema.Field{Name: "name", Type: schema.String, Nullable: true},
	)
	valid := s.MustMakeRow(int32(1), int8(1), "a")
	cases := []struct {
		name  string
		row   parquet.Row
		field string
	}{
		{
			name:  "null in required field",
			row:   parquet.Row{parquet.Value{}, parquet.Int32Value(1), parquet.ByteArrayValue([]byte("a"))},
			field: "id",
		},
		{
			name:  "kind mismatch",
			row:   parquet.Row{parquet.Int32Value(1), parquet.Int32Value(1), parquet.DoubleValue(1)},
			field: "name",
		},
		{
			name:  "narrowing overflow",
			row:   parquet.Row{parquet.Int32Value(1), parquet.Int32Value(1000), parquet.ByteArrayValue([]byte("a"))},
			field: "tiny",
		},
		{
			name:  "invalid utf-8",
			row:   parquet.Row{parquet.Int32Value(1), parquet.Int32Value(1), parquet.ByteArrayValue([]byte{0xff, 0xfe})},
			field: "name",
		},
		{
			name: "arity",
			row:  parquet.Row{parquet.Int32Value(1)},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			checked := memory.NewCheckedAllocator(memory.NewGoAllocator())
			defer checked.AssertSize(t, 0)
			mem := arena.NewRoot(checked, 0)

			enc, err := NewBatchEncoder(nil, RowsOf(valid, valid, tc.row), s, EncoderOptions{MaxRecordsPerBatch: 10}, mem)
			require.NoError(t, err)

			_, err = enc.Next()
			var ce *ConversionError
			require.True(t, errors.As(err, &ce), "unexpected error %v", err)
			require.Equal(t, tc.field, ce.Field)
			require.Equal(t, int64(2), ce.Row)

			// Nothing of the failed batch is left in the builders.
			require.Equal(t, int64(0), mem.Allocated())
			require.True(t, mem.Released())

			_, err = enc.Next()
			require.Equal(t, ErrClosed, err)
			require.NoError(t, enc.Close())
		})
	}
}

func TestEncoderStopsAfterConversionError(t *testing.T) {
	s := schema.MustNew(schema.Field{Name: "id", Type: schema.Int8})
	rows := []parquet.Row{
		s.MustMakeRow(int8(1)),
		s.MustMakeRow(int8(2)),
		{parquet.Int32Value(1000).Level(0, 0, 0)},
		s.MustMakeRow(int8(4)),
	}
	mem := arena.NewRoot(nil, 0)
	enc, err := NewBatchEncoder(nil, RowsOf(rows...), s, EncoderOptions{MaxRecordsPerBatch: 10}, mem)
	require.NoError(t, err)

	batch, err := enc.Next()
	var ce *ConversionError
	require.True(t, errors.As(err, &ce), "unexpected error %v", err)
	require.Equal(t, int64(2), ce.Row)
	require.Nil(t, batch)

	// The rows after the bad one must not be encoded without the rows before it.
	for i := 0; i < 2; i++ {
		batch, err = enc.Next()
		require.Equal(t, ErrClosed, err)
		require.Nil(t, batch)
	}
	require.True(t, mem.Released())
	require.Equal(t, int64(3), enc.RowsEncoded())
}

func TestWideningConversions(t *testing.T) {
	s := schema.MustNew(
		schema.Field{Name: "big", Type: schema.Int64},
		schema.Field{Name: "value", Type: schema.Float64},
		schema.Field{Name: "ts", Type: schema.Timestamp},
	)
	row := parquet.Row{parquet.Int32Value(-7), parquet.FloatValue(1.5), parquet.Int32Value(1000)}
	batches := encode(t, s, []parquet.Row{row}, EncoderOptions{}, nil)
	decoded := decode(t, s, BatchesOf(batches...), "UTC", nil)

	require.Len(t, decoded, 1)
	require.Equal(t, parquet.Int64, decoded[0][0].Kind())
	require.Equal(t, int64(-7), decoded[0][0].Int64())
	require.Equal(t, 1.5, decoded[0][1].Double())
	require.Equal(t, int64(1000), decoded[0][2].Int64())
}

func TestMaxBatchBytes(t *testing.T) {
	long := string(bytes.Repeat([]byte("x"), 100))
	rows := make([]parquet.Row, 10)
	for i := range rows {
		rows[i] = idNameSchema.MustMakeRow(int32(i), long)
	}
	batches := encode(t, idNameSchema, rows, EncoderOptions{MaxBatchBytes: 250}, nil)
	require.Len(t, batches, 4)

	sizes := make([]int, 0, len(batches))
	for _, batch := range batches {
		sizes = append(sizes, len(decode(t, idNameSchema, BatchesOf(batch), "UTC", nil)))
	}
	require.Equal(t, []int{3, 3, 3, 1}, sizes)
}

func TestArenaExhaustion(t *testing.T) {
	rows := make([]parquet.Row, 0, 1000)
	for i := 0; i < 1000; i++ {
		rows = append(rows, idNameSchema.MustMakeRow(int32(i), "some fairly long name value"))
	}
	mem := arena.NewRoot(nil, 4096)
	enc, err := NewBatchEncoder(nil, RowsOf(rows...), idNameSchema, EncoderOptions{}, mem)
	require.NoError(t, err)

	_, err = enc.Next()
	var exhausted *arena.ExhaustedError
	require.True(t, errors.As(err, &exhausted), "unexpected error %v", err)
	require.Equal(t, int64(0), mem.Allocated())
	require.NoError(t, enc.Close())
}

func TestDecoderCancellationReleasesOnce(t *testing.T) {
	rows := mixedRows(6)
	batches := encode(t, mixedSchema, rows, EncoderOptions{MaxRecordsPerBatch: 3}, nil)
	require.Len(t, batches, 2)

	checked := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer checked.AssertSize(t, 0)
	root := arena.NewRoot(checked, 0)
	mem, err := root.NewChild("decode", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	task := newTestTask(ctx)
	dec, err := NewRowDecoder(task, BatchesOf(batches...), mixedSchema, "UTC", mem)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := dec.Next()
		require.NoError(t, err)
	}
	require.Greater(t, mem.Allocated(), int64(0))

	cancel()
	require.NoError(t, task.complete())
	require.True(t, mem.Released())
	require.Equal(t, 0, root.NumChildren())
	require.Equal(t, int64(0), root.Allocated())

	_, err = dec.Next()
	require.Equal(t, ErrClosed, err)
	require.NoError(t, dec.Close())
	require.NoError(t, task.complete())
	require.NoError(t, root.Release())
}

func TestDecoderStopsOnCancelledContext(t *testing.T) {
	batches := encode(t, idNameSchema, []parquet.Row{
		idNameSchema.MustMakeRow(int32(1), "a"),
		idNameSchema.MustMakeRow(int32(2), "b"),
	}, EncoderOptions{MaxRecordsPerBatch: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	task := newTestTask(ctx)
	mem := arena.NewRoot(nil, 0)
	dec, err := NewRowDecoder(task, BatchesOf(batches...), idNameSchema, "UTC", mem)
	require.NoError(t, err)

	_, err = dec.Next()
	require.NoError(t, err)
	cancel()
	_, err = dec.Next()
	require.True(t, errors.Is(err, context.Canceled))
	require.True(t, mem.Released())
	require.NoError(t, task.complete())
}

func TestDecoderStopsWithinBatch(t *testing.T) {
	rows := []parquet.Row{
		idNameSchema.MustMakeRow(int32(1), "a"),
		idNameSchema.MustMakeRow(int32(2), "b"),
		idNameSchema.MustMakeRow(int32(3), "c"),
	}
	batches := encode(t, idNameSchema, rows, EncoderOptions{MaxRecordsPerBatch: 10}, nil)
	require.Len(t, batches, 1)

	ctx, cancel := context.WithCancel(context.Background())
	task := newTestTask(ctx)
	mem := arena.NewRoot(nil, 0)
	dec, err := NewRowDecoder(task, BatchesOf(batches...), idNameSchema, "UTC", mem)
	require.NoError(t, err)

	row, err := dec.Next()
	require.NoError(t, err)
	requireRowsEqual(t, idNameSchema, rows[:1], []parquet.Row{row})

	cancel()
	row, err = dec.Next()
	require.True(t, errors.Is(err, context.Canceled), "unexpected error %v", err)
	require.Nil(t, row)
	require.True(t, mem.Released())

	_, err = dec.Next()
	require.Equal(t, ErrClosed, err)
	require.NoError(t, task.complete())
}

func TestEncoderCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := newTestTask(ctx)
	mem := arena.NewRoot(nil, 0)
	enc, err := NewBatchEncoder(task, RowsOf(mixedRows(10)...), mixedSchema, EncoderOptions{MaxRecordsPerBatch: 4}, mem)
	require.NoError(t, err)

	_, err = enc.Next()
	require.NoError(t, err)
	cancel()

	_, err = enc.Next()
	require.True(t, errors.Is(err, context.Canceled))
	require.True(t, mem.Released())

	_, err = enc.Next()
	require.Equal(t, ErrClosed, err)
	require.NoError(t, task.complete())
}

func TestEncoderReleasedByTaskCompletion(t *testing.T) {
	task := newTestTask(context.Background())
	mem := arena.NewRoot(nil, 0)
	enc, err := NewBatchEncoder(task, RowsOf(mixedRows(10)...), mixedSchema, EncoderOptions{MaxRecordsPerBatch: 4}, mem)
	require.NoError(t, err)

	_, err = enc.Next()
	require.NoError(t, err)
	require.False(t, mem.Released())

	require.NoError(t, task.complete())
	require.True(t, mem.Released())
}

func TestStreamReadableByArrow(t *testing.T) {
	rows := mixedRows(10)
	batches := encode(t, mixedSchema, rows, EncoderOptions{MaxRecordsPerBatch: 4}, nil)
	stream := frame(t, mixedSchema, "UTC", batches)

	rdr, err := ipc.NewReader(bytes.NewReader(stream))
	require.NoError(t, err)
	defer rdr.Release()

	var total int64
	for rdr.Next() {
		total += rdr.Record().NumRows()
	}
	require.NoError(t, rdr.Err())
	require.Equal(t, int64(10), total)
}

func TestReadStream(t *testing.T) {
	batches := encode(t, idNameSchema, []parquet.Row{
		idNameSchema.MustMakeRow(int32(1), "a"),
		idNameSchema.MustMakeRow(int32(2), "b"),
		idNameSchema.MustMakeRow(int32(3), nil),
	}, EncoderOptions{MaxRecordsPerBatch: 2}, nil)
	stream := frame(t, idNameSchema, "UTC", batches)

	as, read, err := ReadStream(bytes.NewReader(stream), nil)
	require.NoError(t, err)
	require.Equal(t, batches, read)

	s, tz, err := schema.FromArrow(as)
	require.NoError(t, err)
	require.Equal(t, "", tz)
	require.True(t, idNameSchema.Equal(s))

	_, _, err = ReadStream(bytes.NewReader(nil), nil)
	var de *DeserializationError
	require.True(t, errors.As(err, &de))
}

func TestEncodeAllAndReadStreamSchema(t *testing.T) {
	rows := mixedRows(7)
	batches, err := EncodeAll(RowsOf(rows...), mixedSchema, EncoderOptions{MaxRecordsPerBatch: 2, TimeZoneID: "Europe/Berlin"})
	require.NoError(t, err)
	require.Len(t, batches, 4)

	stream := frame(t, mixedSchema, "Europe/Berlin", batches)
	as, err := ReadStreamSchema(bytes.NewReader(stream))
	require.NoError(t, err)
	s, tz, err := schema.FromArrow(as)
	require.NoError(t, err)
	require.Equal(t, "Europe/Berlin", tz)
	require.True(t, mixedSchema.Equal(s))

	_, err = EncodeAll(RowsOf(parquet.Row{parquet.Int32Value(1)}), mixedSchema, EncoderOptions{})
	var ce *ConversionError
	require.True(t, errors.As(err, &ce))
}
