// Package relay provides an HTTP implementation of domain.Transport.
//
// A node exposes its stream RPCs as JSON over HTTP:
//   - POST /streams/{id} creates a stream from its genesis events.
//   - GET /streams/{id} returns the stream's miniblocks, minipool and cookie.
//   - POST /streams/{id}/events adds one event.
//   - GET /streams/{id}/miniblocks?from=&to= returns a miniblock range.
//   - GET /streams/{id}/last returns the newest miniblock's hash and number.
//   - POST /sync opens a sync subscription, answered with one JSON
//     SyncResponse per line until the round ends.
//
// Every request carries the caller's context and an X-Request-Id. Non-2xx
// statuses are returned as errors; when the node reports a protocol error
// code it is returned as a *domain.Error with that code.
package relay
