// Package client implements the event store channel client.
//
// A Client owns one transport.Channel. Requests may be pipelined: every call
// pushes a continuation onto a FIFO queue and writes its frames; every inbound
// message pops the oldest continuation and completes that call. The channel is
// assumed to answer strictly in request order, one reply per request, so no
// request identifiers travel on the wire.
//
// There is no per-call timeout or cancellation. A context passed to the
// blocking helpers only bounds the caller's wait; the continuation stays
// queued so that the eventual reply is still consumed in order.
package client
