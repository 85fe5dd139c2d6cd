// Package retry provides exponential backoff retry logic with jitter.
//
// Do executes an operation with bounded retries, multiplying the delay
// between attempts and adding up to 25% jitter so many reconnecting
// adapters do not synchronize. Errors wrapped with NonRetryable fail
// immediately; context cancellation is honored both between attempts and
// during backoff sleeps.
//
// The Reconnect preset encodes the transport adapter policy: one initial
// attempt plus five retries, after which the adapter gives up and the
// owning channel is marked disconnected by the health monitor.
package retry
