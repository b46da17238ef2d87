// Package session owns client<->store channel session helpers.
//
// Ownership boundary:
// - channel timeouts and dial retry/backoff policy
// - transport security policy and TLS client config
// - the FIFO queue correlating replies with pending requests
package session
