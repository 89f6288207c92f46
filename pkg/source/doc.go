/*
Package source implements spec.md §4.4's remote fetchable unit. A Source
carries a name, URL, kind (raw/tar/zip), revision, and strip_components,
and dispatches to Download, Extract, or Install. All three share
ShouldSkip, the front guard that lets an update with an unchanged revision
no-op entirely. Download and Extract end by reconciling orphan
destinations: any dst row belonging to this source that was neither
written nor found unchanged (or left in place) this pass is unlinked and
dropped from the store.
*/
package source
