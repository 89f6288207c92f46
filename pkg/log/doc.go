/*
Package log provides structured logging for fetch using zerolog.

A single package-level Logger is initialized once via Init and shared by
every component (store, cache, destination, source, platform, resource,
task). WithComponent scopes a logger to a static subsystem (e.g.
"platform/github") that doesn't belong to any one task. WithTaskID,
WithResource, and WithSource scope a logger to fetch's task -> resource
-> source nesting: the latter two carry task_id alongside their own
field rather than replacing it, so a source's log line stays
correlatable to the task run it belongs to even when several tasks
overlap.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	srcLog := log.WithSource(taskID, "acme/proj/v1/asset.bin")
	srcLog.Info().Str("revision", rev).Msg("fetched")

Debug mode (see cmd/fetch) raises the level to debug and lets the first
error abort the task instead of being aggregated into a composite error.
*/
package log
