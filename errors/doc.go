// Package errors provides standardized error handling patterns for Telestream
// components.
//
// The package implements a three-class error classification system for
// streaming pipelines: Transient (temporary, retryable), Invalid (bad input,
// non-retryable), and Fatal (unrecoverable, stop processing). Classification
// drives routing decisions: transient transport errors trigger reconnects,
// invalid payloads become invalid-data events, and fatal errors stop the
// component.
//
// All wrapping follows the format "component.method: action failed: %w", via
// Wrap and the classification-aware WrapTransient, WrapInvalid, and WrapFatal.
// The package integrates with errors.Is, errors.As, and error wrapping chains.
package errors
