// Package sinks contains progress.Sink implementations that log run
// milestones, export them as Prometheus metrics, or persist run history.
package sinks
