// Package settings holds the operator-configured invalidation path
// templates and the extensibility hooks applied to them.
//
// Settings are read from an external store (a local file, an SSM parameter
// or an S3 object) and never written. The core components are:
//   - [Source]: fetches the raw settings document
//   - [Parse]: decodes and sanitizes a document into [Settings]
//   - [Manager]: holds the active [Snapshot] behind an atomic pointer
//   - [Watcher]: polls the source and swaps new snapshots into the Manager
//   - [Hooks]: typed per-content-type path filters
//   - [Lookup]: settings + hooks, the path source used by the orchestrator
//
// Request handling only ever reads the current snapshot; it is replaced
// wholesale, never mutated.
package settings
