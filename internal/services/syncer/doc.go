// Package syncer keeps the tracked streams up to date over one multiplexed
// sync subscription.
//
// Each round opens a subscription with the sync cookies of every tracked
// stream and appends what it receives to the matching stream. Failed rounds
// are retried with exponential backoff until MaxRetries consecutive rounds
// have failed, after which the Syncer stops and reports the last error.
package syncer
