/*
Package destination implements the single-file atomic writer described in
spec.md §4.3: stage → hash → compare → swap → backup → commit/rollback.

At every suspension point the filesystem is in one of three legal states
for a given path:

	(a) only the committed original
	(b) original + staging file (<path>.prt.fetch)
	(c) only the new committed file + backup (<path>.bak.fetch)

A crash at any point leaves enough on disk for a subsequent Cancel to
restore the original. Hashing happens inline with the write via
internal/digest, never as a second pass over the data.

WriteFile/WriteDir/WriteLink return fetcherrors.Cancel() when the new
content is identical to what is already committed — callers (pkg/source)
must treat that as a normal, silent no-op, never as a failure.
*/
package destination
