package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validation errors are returned before any extraction is attempted.
var (
	ErrUnsupportedType  = errors.New("unsupported artifact type")
	ErrArtifactTooLarge = errors.New("artifact too large")
	ErrEmptyArtifact    = errors.New("empty artifact")
)

var (
	ErrNotConfigured  = errors.New("provider not configured")
	ErrUnhealthy      = errors.New("provider unhealthy")
	ErrMalformed      = errors.New("malformed provider response")
	ErrProviderFailed = errors.New("provider reported failure")
)

// FailureKind classifies a provider failure for the user-facing message.
type FailureKind string

const (
	KindUnavailable FailureKind = "unavailable"
	KindTimeout     FailureKind = "timeout"
	KindNetwork     FailureKind = "network"
	KindUnreadable  FailureKind = "unreadable"
)

// StatusError is a non-2xx reply from a document provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// ProviderError records one failed stage of the PDF cascade.
type ProviderError struct {
	Provider string
	Stage    string
	Kind     FailureKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Stage, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func newProviderError(provider, stage string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Stage: stage, Kind: classify(err), Err: err}
}

func classify(err error) FailureKind {
	var netErr net.Error
	var statusErr *StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrProviderFailed):
		if unreadableReport(err.Error()) {
			return KindUnreadable
		}
		return KindUnavailable
	case errors.Is(err, ErrMalformed):
		return KindUnreadable
	case errors.As(err, &statusErr):
		if statusErr.Code == 422 || statusErr.Code == 415 {
			return KindUnreadable
		}
		return KindUnavailable
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	default:
		return KindUnavailable
	}
}

var unreadableHints = []string{
	"unreadable", "could not read", "cannot read", "can't read", "unable to read",
	"no text", "not a receipt", "corrupt", "invalid pdf", "parse",
}

// unreadableReport reports whether a provider's own failure text blames the
// document rather than the provider.
func unreadableReport(msg string) bool {
	msg = strings.ToLower(msg)
	for _, hint := range unreadableHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

const (
	msgUnavailable = "The document processing service is unavailable right now. Please try again later or enter the expense manually."
	msgUnreadable  = "We could not read the document. Try a clearer copy or enter the expense manually."
	msgNetwork     = "A network error interrupted processing. Check your connection and try again."
)

// ExhaustedError is returned when every option of the cascade failed. Its
// Error text is for logs; UserMessage is safe to show.
type ExhaustedError struct {
	Failures []*ProviderError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return "all document providers failed: " + strings.Join(parts, "; ")
}

func (e *ExhaustedError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f
	}
	return out
}

// UserMessage never contains provider error text.
func (e *ExhaustedError) UserMessage() string {
	network := len(e.Failures) > 0
	for _, f := range e.Failures {
		if f.Kind == KindUnreadable {
			return msgUnreadable
		}
		if f.Kind != KindNetwork {
			network = false
		}
	}
	if network {
		return msgNetwork
	}
	return msgUnavailable
}
