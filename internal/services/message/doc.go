// Package message posts events to a node on behalf of this device.
//
// Client is the network side of key exchange: it uploads the device key,
// loads and acknowledges the inbox, sends solicitations and fulfillments,
// and delivers group sessions to other devices through their owners' inbox
// streams. It also sends encrypted timeline messages, sharing each new
// outbound session with the stream's members the first time it is used.
package message
