package api

import (
	"errors"
	"net/http"

	"github.com/magi-sh/magi/internal/core"
)

// httpStatusFor maps a domain error category to its status code family:
// 400 for malformed input, 404 for missing resources, 409 for not-yet-ready
// dependencies, 5xx for everything internal.
func httpStatusFor(err error) int {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return http.StatusInternalServerError
	}

	switch domErr.Category {
	case core.ErrCatValidation, core.ErrCatConfig:
		return http.StatusBadRequest
	case core.ErrCatNotFound:
		return http.StatusNotFound
	case core.ErrCatConflict:
		return http.StatusConflict
	case core.ErrCatTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
