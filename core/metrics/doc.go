// Package metrics defines the events emitted by training runs and the
// inference surface, and the sink interfaces that record them. Sinks such as
// the Prometheus and InfluxDB implementations in infra/metrics are built from
// configuration through a factory registry and combined with NewMultiSink
// when several are configured.
package metrics
