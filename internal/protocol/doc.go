// Package protocol owns the event store wire contract.
//
// Ownership boundary:
// - command encoding into multipart messages
// - reply decoding (write acks, read results, server errors)
// - local argument validation before anything reaches a channel
package protocol
