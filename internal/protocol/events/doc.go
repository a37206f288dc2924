// Package events builds and verifies stream event envelopes.
//
// An envelope carries a deterministic CBOR serialization of an event, the
// domain-separated hash of those bytes, and a recoverable secp256k1
// signature over the hash. Events signed by a device key embed the user's
// delegate signature so verifiers can chain the device back to the
// creator address.
//
// Verification rejects, in order: a hash mismatch (BAD_EVENT_ID), an
// unrecoverable signature or a signer that is not the creator
// (BAD_EVENT_SIGNATURE), an invalid delegation (BAD_DELEGATE_SIG), and a
// non-inception event without valid predecessors (BAD_PREV_EVENTS).
package events
