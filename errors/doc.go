// Package errors provides standardized error handling patterns for daqstreams.
//
// # Overview
//
// The package implements a three-class error classification system for the
// acquisition pipeline: Transient (temporary, retryable), Invalid (bad input,
// non-retryable), and Fatal (unrecoverable, stop processing). Classification
// enables components to make retry and degradation decisions without error
// string matching.
//
// The acquisition-domain taxonomy maps onto the classes as follows:
//
//   - Transport errors (ErrConnectionLost, ErrConnectionTimeout) are
//     transient and retried with backoff at the adapter.
//   - Demux and buffering errors (ErrUnknownChannel, ErrBufferOverflow,
//     ErrSequenceRegress) are counted and never fatal; no frame loss is
//     silent.
//   - Stage errors (ErrStageUnstable, ErrNonFiniteOutput, ErrStageContract)
//     isolate to one channel's pipeline; use IsStageError to detect them.
//   - Configuration errors (ErrDuplicateChannel, ErrUnstableFilter) are
//     fatal at load time; the affected channel does not start.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format "component.method: action failed: %w":
//
//	return errors.WrapTransient(err, "serial-transport", "Open", "device open")
//
// Wrap preserves the original error's classification; WrapTransient,
// WrapInvalid, and WrapFatal set it. Classification survives error chains
// and integrates with errors.Is/As/Unwrap.
//
// # Retry Configuration
//
// RetryConfig carries the backoff parameters used by the pkg/retry framework;
// ReconnectRetryConfig is the adapter reconnection policy (five attempts
// before a channel is marked disconnected).
package errors
