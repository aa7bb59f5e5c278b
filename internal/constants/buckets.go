package constants

// DispatchLatencyBuckets are histogram buckets for one filter pass over an
// event. A pass is a handful of callbacks over a small buffer: the
// interesting range is 1µs to 10ms — anything slower means a filter
// program is doing far too much work on the delivery path.
var DispatchLatencyBuckets = []float64{
	0.000001, // 1µs
	0.000005, // 5µs
	0.00001,  // 10µs
	0.00005,  // 50µs
	0.0001,   // 100µs
	0.0005,   // 500µs
	0.001,    // 1ms
	0.005,    // 5ms
	0.01,     // 10ms
}

// ─── Prometheus Label Sets ─────────────────────────────────────────
var (
	LabelsDeviceReportType = []string{LabelDevice, LabelReportType}
	LabelsDeviceResult     = []string{LabelDevice, LabelResult}
	LabelsDeviceBus        = []string{LabelDevice, LabelBus}
	LabelsKind             = []string{LabelKind}
	LabelsSubscriber       = []string{LabelSubscriber}
	LabelsSource           = []string{LabelSource}
)
