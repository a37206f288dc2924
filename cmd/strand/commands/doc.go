// Package commands defines the strand CLI.
//
// Commands
//
//   - init       Create the local identity: user key, delegated device key
//     and device encryption key
//   - whoami     Print the user address, device key and fingerprint
//   - verify     Verify envelope files and print their events
//   - streamid   Mint a stream id, or validate existing ones
//   - send       Encrypt and post a message to a stream
//   - sync       Sync joined streams and run key exchange until interrupted
//
// # Implementation
//
// The root command loads the TOML config (or the defaults), applies the
// --home override and opens the device store before every subcommand except
// streamid and verify. Online commands additionally unlock the identity and
// build the client.
package commands
