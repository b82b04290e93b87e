// Package forward relays upstream events to a remote HTTP(S) endpoint.
//
// A Dispatcher is built once from a Config and then called once per event.
// Each call selects the destination path for the event type, encodes the
// payload as JSON and hands a POST to a shared keep-alive connection pool.
// The call returns as soon as the request is handed off; the network I/O runs
// on its own goroutine and is observed through the returned Delivery.
//
// Routing:
//   - raddec → /raddecs, dynamb → /dynambs, spatem → /spatems by default
//   - the legacy single Path option overrides the raddec path
//   - unknown event types are dropped without error and without a request
//
// Error handling:
//   - Payload encoding failure → returned to the caller
//   - Transport failure (refused, DNS, timeout, reset) → absorbed; reported to
//     the Observer only when ReportErrors is set
//   - Any HTTP status → treated as delivered; status, headers and body chunks
//     are reported to the Observer only when VerboseResponses is set
//
// Limitations:
//   - Best effort only: no retries, no backoff, no batching
//   - No request deadline beyond the pooled transport's dial and TLS timeouts
package forward
