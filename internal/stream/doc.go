// Package stream materializes the state of one stream from its snapshot,
// confirmed miniblocks and minipool.
//
// A State indexes every accepted event by hash, tracks the current leaf
// hashes, maintains the stream's membership and member metadata, and keeps a
// content view specialised to the stream kind. Changes are reported as typed
// Events on the State's outbound channel. A Router fans those channels into
// per-stream and global subscriptions.
package stream
