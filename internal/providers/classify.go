// Package providers holds what the text and image adapters share: turning a
// provider failure into a transient or fatal domain.AdapterError.
package providers

import (
	"context"
	"errors"
	"net"
	"net/http"

	"google.golang.org/genai"

	"recipes/internal/domain"
)

// RetryableStatus reports whether an HTTP status signals throttling or a server fault.
func RetryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
}

// FromStatus classifies err using the HTTP status the provider answered with.
func FromStatus(provider string, status int, err error) *domain.AdapterError {
	if RetryableStatus(status) {
		return domain.NewTransientError(provider, err)
	}
	return domain.NewFatalError(provider, err)
}

// Classify wraps err for providers that did not return a status. Deadlines
// and network failures are transient; a cancelled context is fatal.
func Classify(provider string, err error) *domain.AdapterError {
	var ae *domain.AdapterError
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, context.Canceled):
		return domain.NewFatalError(provider, err)
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewTransientError(provider, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.NewTransientError(provider, err)
	}
	return domain.NewFatalError(provider, err)
}

// ClassifyGenAI maps a google.golang.org/genai failure using the API status code.
func ClassifyGenAI(provider string, err error) *domain.AdapterError {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return FromStatus(provider, apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return FromStatus(provider, apiErrPtr.Code, err)
	}
	return Classify(provider, err)
}
