// Package observability provides logging, the signal event log, metrics
// and alerting for tmsync. Every sync signal is persisted as one JSON
// Lines record; metrics and alerts are derived from that log on demand.
package observability
