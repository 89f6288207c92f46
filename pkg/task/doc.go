// Package task is the entrypoint the CLI drives: one call creates a task
// row, expands its inputs, and fans each resulting resource out to a
// bounded worker pool, returning one aggregated error for the whole run.
package task
