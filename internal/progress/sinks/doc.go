// Package sinks implements progress consumers: Prometheus collectors, a
// structured log, and a message-bus publisher.
package sinks
