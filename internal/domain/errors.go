package domain

import "fmt"

// ProviderErrorReason classifies why a single provider dropped out of an
// aggregation. The aggregate itself never fails because of one of these.
type ProviderErrorReason string

const (
	ReasonUnsupportedRoute  ProviderErrorReason = "unsupported_route"
	ReasonUpstream          ProviderErrorReason = "upstream_error"
	ReasonMalformedResponse ProviderErrorReason = "malformed_response"
	ReasonBreakerOpen       ProviderErrorReason = "breaker_open"
	ReasonBreakerTesting    ProviderErrorReason = "breaker_testing"
	ReasonTimeout           ProviderErrorReason = "timeout"
)

// ProviderError is the normalized failure shape for one provider. Adapters
// convert every internal failure into this before returning.
type ProviderError struct {
	Provider          string              `json:"provider"`
	Reason            ProviderErrorReason `json:"reason"`
	Message           string              `json:"message"`
	RetryAfterSeconds int                 `json:"retryAfterSeconds,omitempty"`

	cause error
}

func NewProviderError(provider string, reason ProviderErrorReason, msg string, cause error) *ProviderError {
	return &ProviderError{Provider: provider, Reason: reason, Message: msg, cause: cause}
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Reason, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.cause }

// Retryable reports whether the same call could succeed later without the
// route or payload changing.
func (e *ProviderError) Retryable() bool {
	switch e.Reason {
	case ReasonUnsupportedRoute, ReasonMalformedResponse:
		return false
	}
	return true
}
