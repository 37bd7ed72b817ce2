package writer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ClusterCockpit/cc-trace/internal/capture"
)

// Metrics is the writer's prometheus instrumentation. It is additive:
// nothing on the producer (capture) side ever touches a prometheus
// type, so registering a Metrics has no effect on the hot path.
type Metrics struct {
	packetsWritten  prometheus.Counter
	bytesWritten    prometheus.Counter
	oversizeDropped prometheus.Counter
	buffersRotated  prometheus.CounterFunc
	activeThreads   prometheus.GaugeFunc
}

// NewMetrics builds the writer's metric set, reading rotation and
// active-thread counts live from state rather than duplicating them.
// If reg is nil the metrics are still usable, just unregistered --
// callers that don't want Prometheus wiring can pass nil.
func NewMetrics(reg prometheus.Registerer, state *capture.State) *Metrics {
	m := &Metrics{
		packetsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cc_trace_packets_written_total",
			Help: "Total number of TracePacket messages appended to the output file.",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cc_trace_bytes_written_total",
			Help: "Total bytes appended to the trace output sink.",
		}),
		oversizeDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cc_trace_oversize_annotations_dropped_total",
			Help: "Packets skipped because a nested submessage exceeded its size limit.",
		}),
		buffersRotated: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "cc_trace_buffers_rotated_total",
			Help: "Total number of per-thread buffer rotations.",
		}, func() float64 { return float64(state.Rotations()) }),
		activeThreads: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "cc_trace_active_threads",
			Help: "Number of threads currently registered with the capture subsystem.",
		}, func() float64 { return float64(state.ActiveThreads()) }),
	}

	if reg != nil {
		reg.MustRegister(m.packetsWritten, m.bytesWritten, m.oversizeDropped, m.buffersRotated, m.activeThreads)
	}
	return m
}
