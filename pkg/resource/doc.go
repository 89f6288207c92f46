// Package resource applies one top-level action to a named resource
// (spec.md §4.7): create a download/extract/install resource, update an
// existing one by re-running its stored action, or remove one entirely.
package resource
