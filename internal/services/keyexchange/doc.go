// Package keyexchange decrypts group-encrypted stream content and trades
// group session keys with other devices.
//
// A Scheduler drains six queues from a single goroutine, one item per tick,
// in fixed priority order: priority tasks, new group sessions from the inbox,
// new encrypted content, then due decryption retries, missing key requests
// and key solicitations from other devices.
package keyexchange
