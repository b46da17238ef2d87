// Package events owns the event envelope and the type registry shared by the
// channel client and the storage reader.
//
// Ownership boundary:
// - envelope shape handed to callers
// - typeId -> payload reconstruction
// - untyped fallback for unregistered type ids
package events
