// Package provider holds what all upstream clients share: mapping executor
// failures onto the error taxonomy.
package provider

import (
	"net/http"

	"github.com/sawpanic/marketfeed/internal/apperr"
	"github.com/sawpanic/marketfeed/internal/httpx"
)

// MapError converts an executor failure into a taxonomy error. Provider
// clients call this after their own response-specific handling (e.g. a 400
// that means "unknown symbol").
func MapError(name string, err error) error {
	if err == nil {
		return nil
	}
	he, ok := httpx.AsError(err)
	if !ok {
		return apperr.Wrap(apperr.CodeProviderError, err, "%s request failed", name)
	}

	switch he.Kind {
	case httpx.KindTimeout, httpx.KindTransport:
		return apperr.Wrap(apperr.CodeNetworkError, err, "%s unreachable", name)
	case httpx.KindCanceled:
		return apperr.Wrap(apperr.CodeNetworkError, err, "%s request canceled", name)
	case httpx.KindStatus:
		switch {
		case he.Status == http.StatusNotFound:
			return apperr.Wrap(apperr.CodeSymbolNotFound, err, "%s: not found", name)
		case he.Status == http.StatusTooManyRequests:
			return apperr.Wrap(apperr.CodeProviderThrottled, err, "%s throttled the request", name)
		case he.Status >= 500:
			return apperr.Wrap(apperr.CodeProviderError, err, "%s returned %d", name, he.Status)
		default:
			return apperr.Wrap(apperr.CodeProviderError, err, "%s rejected the request (%d)", name, he.Status)
		}
	}
	return apperr.Wrap(apperr.CodeProviderError, err, "%s request failed", name)
}
