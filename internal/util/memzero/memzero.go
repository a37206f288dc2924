// Package memzero wipes secret material held in byte slices.
package memzero

import "runtime"

// Zero clears every buffer. The buffers stay reachable until the writes are
// done so they are not elided.
func Zero(bufs ...[]byte) {
	for _, b := range bufs {
		clear(b)
	}
	runtime.KeepAlive(bufs)
}
