package relay

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common failure modes.
var (
	// ErrValidation indicates a request or event failed validation.
	ErrValidation = errors.New("validation error")

	// ErrStreamNotReady indicates Event() was called before Next().
	ErrStreamNotReady = errors.New("stream not ready: call Next() first")

	// ErrStreamClosed indicates an operation on a closed stream.
	ErrStreamClosed = errors.New("stream closed")

	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrConversationNotFound indicates no events exist for a conversation.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrEventSealed indicates a mutation of an event that is no longer streaming.
	ErrEventSealed = errors.New("event sealed")

	// Provider error kinds, matched with errors.Is against a *ProviderError.
	ErrProviderAuth      = errors.New("provider auth error")
	ErrProviderRateLimit = errors.New("provider rate limit error")
	ErrProviderBadInput  = errors.New("provider bad input error")
	ErrProviderUpstream  = errors.New("provider upstream error")
	ErrProviderUnknown   = errors.New("provider unknown error")
)

// ErrorKind classifies a vendor failure.
type ErrorKind string

const (
	ErrorKindAuth      ErrorKind = "auth"
	ErrorKindRateLimit ErrorKind = "rate_limit"
	ErrorKindBadInput  ErrorKind = "bad_input"
	ErrorKindUpstream  ErrorKind = "upstream"
	ErrorKindUnknown   ErrorKind = "unknown"
)

// ClassifyStatus maps a vendor HTTP status to an ErrorKind.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return ErrorKindAuth
	case status == http.StatusTooManyRequests:
		return ErrorKindRateLimit
	case status == http.StatusBadRequest:
		return ErrorKindBadInput
	case status >= 500 && status <= 599:
		return ErrorKindUpstream
	default:
		return ErrorKindUnknown
	}
}

// ProviderError is a classified vendor failure. Provider is the adapter name
// and prefixes the message.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

// NewProviderError classifies status and wraps cause.
func NewProviderError(provider string, status int, message string, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Kind:       ClassifyStatus(status),
		StatusCode: status,
		Message:    message,
		Err:        cause,
	}
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s error (HTTP %d): %s", e.Provider, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Provider, e.Kind, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is matches the sentinel for e's kind.
func (e *ProviderError) Is(target error) bool {
	switch e.Kind {
	case ErrorKindAuth:
		return target == ErrProviderAuth
	case ErrorKindRateLimit:
		return target == ErrProviderRateLimit
	case ErrorKindBadInput:
		return target == ErrProviderBadInput
	case ErrorKindUpstream:
		return target == ErrProviderUpstream
	default:
		return target == ErrProviderUnknown
	}
}

