package api

import (
	"errors"
	"net/http"

	"github.com/storyline-ai/storyline/internal/core"
)

func httpStatusForDomainError(err error) (int, bool) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return 0, false
	}

	switch domErr.Category {
	case core.ErrCatValidation:
		return http.StatusUnprocessableEntity, true
	case core.ErrCatNotFound:
		return http.StatusNotFound, true
	case core.ErrCatState, core.ErrCatConflict:
		return http.StatusConflict, true
	case core.ErrCatTransport:
		return http.StatusBadGateway, true
	case core.ErrCatTimeout:
		return http.StatusGatewayTimeout, true
	case core.ErrCatAuth:
		return http.StatusUnauthorized, true
	case core.ErrCatRateLimit:
		return http.StatusTooManyRequests, true
	default:
		return http.StatusInternalServerError, true
	}
}

// errorBody is the JSON error shape shared with the upstream service.
type errorBody struct {
	Error    string                 `json:"error"`
	Code     string                 `json:"code,omitempty"`
	Category string                 `json:"category,omitempty"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// respondDomainError maps a domain error onto an HTTP status and JSON body.
func respondDomainError(w http.ResponseWriter, err error) {
	status, ok := httpStatusForDomainError(err)
	if !ok {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	var domErr *core.DomainError
	errors.As(err, &domErr)
	respondJSON(w, status, errorBody{
		Error:    domErr.Message,
		Code:     domErr.Code,
		Category: string(domErr.Category),
		Details:  domErr.Details,
	})
}
