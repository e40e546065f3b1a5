// Package sink defines the contract between the HTTP layer and the
// delivery backends.
package sink

// Sink accepts raw tracker payloads for asynchronous delivery. A sink
// never surfaces delivery errors to the caller; downstream failures are
// retried or logged and dropped.
type Sink interface {
	// StoreRawEvents buffers payloads for delivery under the given
	// partition key. The returned slice is always empty; the signature
	// leaves room for sinks that reject payloads synchronously.
	StoreRawEvents(payloads [][]byte, key string) [][]byte

	// MaxBytes is the payload size limit: a single payload of MaxBytes
	// bytes or more is dropped with an error log, so callers may
	// short-circuit such payloads before buffering.
	MaxBytes() int

	// Shutdown drains buffered events and stops background delivery.
	Shutdown()
}
