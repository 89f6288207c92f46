/*
Package metrics provides Prometheus metrics and health/readiness probes for
the engine. Every counter and histogram below is incremented inline by the
package doing the work (task, resource, source, platform/github); the CLI
serves them over HTTP only when invoked with --metrics-addr, for a caller
that wants to scrape a single run or wrap the engine in something
longer-lived.

# Metrics Catalog

Task:

	fetch_tasks_total                 Counter
	fetch_task_duration_seconds       Histogram

Resource:

	fetch_resources_total{action}          Gauge   sampled from the store by Collector
	fetch_resource_failures_total{action}  Counter

Source:

	fetch_sources_fetched_total{kind}          Counter
	fetch_sources_skipped_total                Counter  revision unchanged, front-guard hit
	fetch_source_fetch_duration_seconds{kind}  Histogram

Destination:

	fetch_bytes_written_total                    Counter
	fetch_destination_write_duration_seconds{type}  Histogram
	fetch_destinations_written_total{type}       Counter
	fetch_destinations_unchanged_total           Counter  stage hashed equal to the existing file, write canceled
	fetch_orphans_purged_total{level}            Counter  level is "destination" (per-source reconcile) or "source" (per-resource reconcile)

Cache:

	fetch_cache_hits_total           Counter
	fetch_cache_misses_total         Counter
	fetch_cache_sweep_duration_seconds  Histogram

Platform:

	fetch_platform_requests_total{scheme,status}      Counter
	fetch_platform_rate_limit_remaining{scheme}       Gauge

# Collector

Collector polls the store on a fixed interval and republishes
fetch_resources_total by creation action. It is separate from the
per-operation counters above, which are incremented inline by the packages
that do the work, not by the collector.

# Health

HealthChecker tracks named components ("store", "cache", ...) and exposes
/health, /ready, and /live handlers in the same shape a Kubernetes or
systemd readiness probe expects. GetReadiness treats "store" and "cache" as
the critical components a caller cannot do useful work without.
*/
package metrics
