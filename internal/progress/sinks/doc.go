// Package sinks implements concrete progress consumers: Prometheus collectors,
// the job run ledger, and structured logging.
package sinks
