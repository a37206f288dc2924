// Package devicekeys publishes this device's encryption key on the user's
// device-key stream and reads the keys other users have published.
package devicekeys
