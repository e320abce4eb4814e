// Package phedex provides an HTTP client for the replica catalog data
// service: bulk replica listings, subscription and file-level views,
// deletion history, node listings, and the subscribe/delete/approve
// mutation calls. Responses are decoded into one record type per endpoint.
package phedex

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, phedex.ErrBadRequest) to check.
var (
	ErrBadRequest   = errors.New("phedex: bad request")
	ErrUnauthorized = errors.New("phedex: unauthorized")
	ErrForbidden    = errors.New("phedex: forbidden")
	ErrNotFound     = errors.New("phedex: not found")
	ErrThrottled    = errors.New("phedex: throttled")
	ErrServerError  = errors.New("phedex: server error")
	ErrUnexpected   = errors.New("phedex: unexpected response")
)

// ErrUnfilteredQuery is returned, without calling the catalog, for a
// replica query with no filter set. Such a query would list the whole
// catalog.
var ErrUnfilteredQuery = errors.New("phedex: replica query has no filter")

// CatalogError wraps a sentinel error with the HTTP status code, the
// endpoint called, and the service's error message.
type CatalogError struct {
	StatusCode int
	Endpoint   string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("phedex: %s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is the catalog rejecting the request
// data as malformed (HTTP 400). Every other failure, including network
// errors, means the catalog is unavailable.
func IsValidation(err error) bool {
	return errors.Is(err, ErrBadRequest)
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		if code >= http.StatusMultipleChoices {
			return ErrUnexpected
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
