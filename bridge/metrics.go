package bridge

import "github.com/prometheus/client_golang/prometheus"

const (
	opEncode = "encode"
	opDecode = "decode"
)

type metrics struct {
	batchesEncoded prometheus.Counter
	rowsEncoded    prometheus.Counter
	batchBytes     prometheus.Counter
	batchesDecoded prometheus.Counter
	rowsDecoded    prometheus.Counter
	taskFailures   *prometheus.CounterVec
}

// newMetrics registers the bridge metrics with reg unless it is nil.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		batchesEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_batches_encoded_total",
			Help: "Number of arrow record batches produced by encode tasks.",
		}),
		rowsEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_rows_encoded_total",
			Help: "Number of rows converted into arrow record batches.",
		}),
		batchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_batch_bytes_total",
			Help: "Serialized size of the produced record batches.",
		}),
		batchesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_batches_decoded_total",
			Help: "Number of arrow record batches consumed by decode tasks.",
		}),
		rowsDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_rows_decoded_total",
			Help: "Number of rows read back from arrow record batches.",
		}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_task_failures_total",
			Help: "Number of encode or decode tasks that failed.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.batchesEncoded,
			m.rowsEncoded,
			m.batchBytes,
			m.batchesDecoded,
			m.rowsDecoded,
			m.taskFailures,
		)
	}
	return m
}
