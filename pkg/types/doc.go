// Package types holds the record types persisted by pkg/store: Task,
// Resource, Source, and Destination, plus the small enums (Action,
// DestinationType, SourceKind) shared across the engine.
package types
