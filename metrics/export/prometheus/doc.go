// Package prometheus exposes engine metrics through a client_golang
// Collector.
//
// [NewCollector] reads [linkauth.Engine.MetricsSnapshot] on every scrape.
// Register it on a caller-owned registry and serve it with [Handler]; the
// package never touches the global registry.
package prometheus
