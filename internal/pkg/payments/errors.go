package payments

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownProvider means the addressed provider name is not registered.
	// This is a programming or configuration error and is never silently
	// treated as valid or invalid.
	ErrUnknownProvider = errors.New("payments: unknown provider")

	// ErrSignatureInvalid means the request is untrusted. It is rejected with
	// a client error and never retried by this core.
	ErrSignatureInvalid = errors.New("payments: webhook signature invalid")

	// ErrMalformedPayload means normalization could not make sense of the
	// delivery body.
	ErrMalformedPayload = errors.New("payments: malformed webhook payload")
)

// ConfigError reports a missing or malformed provider secret. The deployment
// is misconfigured, which is distinct from "signature invalid" (the request
// is untrusted).
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("payments: configuration error for %s: %s", e.Key, e.Reason)
}

// NotSupportedError is returned by every provider operation a concrete
// provider does not implement. It fails loudly at call time so incomplete
// integrations surface in tests instead of silently losing data.
type NotSupportedError struct {
	Provider  string
	Operation string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("payments: operation %s not supported by provider %s", e.Operation, e.Provider)
}

// DownstreamError wraps transient persistence failures. The delivery must be
// left unacknowledged so the provider redelivers it.
type DownstreamError struct {
	Op  string
	Err error
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("payments: %s: %v", e.Op, e.Err)
}

func (e *DownstreamError) Unwrap() error {
	return e.Err
}
