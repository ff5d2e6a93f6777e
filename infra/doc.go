// Package infra holds the adapters behind the core interfaces: SQLite run
// history, artifact bundles, loss plots, telemetry sources, the MQTT
// responder, metrics sinks and Sentry. Core packages never import infra.
package infra
