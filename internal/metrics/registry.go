package metrics

import "github.com/prometheus/client_golang/prometheus"

// namespace prefixes every metric name exported by this package.
const namespace = "didcomm"

// Registry is the Prometheus registry every metric in this package registers
// against. A dedicated registry (rather than prometheus.DefaultRegisterer)
// keeps Handler's output limited to this engine's own series.
var Registry = prometheus.NewRegistry()
