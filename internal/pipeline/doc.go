// Package pipeline implements the two idempotent stages of a run: ingestion
// (discover, dedupe, fetch, parse, persist) and enrichment (health-gated,
// batched summarization). Neither stage keeps state between runs; the
// content store's unique keys are the only record of finished work.
package pipeline
