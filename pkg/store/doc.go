/*
Package store provides the sqlite-backed relational store that is the
engine's single source of truth for prior invocations.

The store holds exactly four tables, each a direct rendering of spec.md's
data model:

	┌─────────────────────────── STORE ────────────────────────────┐
	│                                                                │
	│  tsk (task)                                                   │
	│    id, timestamp                         one row per task     │
	│         │                                                     │
	│         ▼ tsk_id (last touching task)                         │
	│  res (resource)                                               │
	│    id, tsk_id, name, action, arguments                        │
	│         │                                                     │
	│         ▼ res_id                                              │
	│  src (source)                                                 │
	│    id, tsk_id, res_id, name, revision, size                   │
	│         │                                                     │
	│         ▼ src_id                                              │
	│  dst (destination)                                            │
	│    id, tsk_id, res_id, src_id, path, digest, st_*              │
	│                                                                │
	└────────────────────────────────────────────────────────────────┘

A resource name is unique (one row per name); a destination path is unique
globally — both enforced by a sqlite UNIQUE constraint rather than an
application-level check, so the "two concurrent workers target the same
path" race (§5) surfaces as a genuine constraint violation. That error is
returned wrapped as-is by the caller; it is not mapped to
fetcherrors.ErrConflict (only pkg/destination's pre-write row check
returns ErrConflict).

# Upsert semantics

UpsertResource/UpsertSource/UpsertDestination implement spec.md §4.1's
upsert rule: pass a nil ref to insert a fresh row; pass the previously
loaded row as ref to update only the columns whose new value is
non-empty/non-zero and differs from ref's value. This mirrors the
"if ref_row or row_id is provided, update only columns whose new value is
non-null and differs from the reference row" rule verbatim — callers that
want to leave a field untouched simply pass its zero value.

# Glob matching

FindResourceByGlob uses sqlite's native GLOB operator (case-sensitive shell
glob, not SQL LIKE) directly against res.name, giving update/remove exact
glob semantics without an application-side matcher.

# Transactions

Every exported method is one *sql.DB call and therefore one sqlite
transaction; spec.md calls this "one row = one transaction in the backing
store." Cross-row consistency (e.g. "delete every src not referenced this
transaction") is the caller's responsibility (pkg/resource, pkg/source),
built from repeated single-row calls — the store itself makes no
multi-statement atomicity promise beyond the per-call transaction.
*/
package store
