// Package hubtap extracts HubSpot CRM data incrementally and emits it as
// newline-delimited JSON RECORD and STATE documents.
//
// Each run walks a catalog of streams (contacts, deals, companies,
// engagements, email events, forms, form submissions and more), pages each
// one through its replication window, and writes the extracted records to a
// configurable sink: stdout, a file, S3, GCS, or Kafka. STATE documents are
// interleaved with the records so a downstream loader can persist bookmarks
// and the next run can resume where the previous one stopped.
//
// # Incremental extraction
//
// Incremental streams track the highest modification timestamp seen and
// query only records at or past the stored bookmark. CRM objects with search
// support (contacts, deals) are read through the search API in ascending
// timestamp order; when the search result cap is reached, the query window
// restarts past the records already seen. Legacy v1 endpoints page by
// offset; their bookmarks still only move forward, so an interrupted run can
// re-extract records but never skip them.
//
// # Reliability
//
// All API traffic flows through a token bucket rate limiter sized to
// HubSpot's rolling limit, a circuit breaker, and exponential backoff with
// jitter for transient failures. Expired OAuth tokens are refreshed in
// flight and the failing request retried.
//
// # Layout
//
//   - cmd/hubtap: the command line entry point
//   - internal/runner: the per-stream sync loop
//   - pkg/streams: the stream catalog and enrichment
//   - pkg/hubspot: the API client, paginators and search windowing
//   - pkg/state: bookmark tracking and snapshot documents
//   - pkg/sink: NDJSON output with compression and remote destinations
//   - pkg/clients: rate limiting, circuit breaking, retry, token refresh
package hubtap
