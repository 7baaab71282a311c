package api

import (
	"errors"
	"net/http"

	"github.com/samcharles93/quanta/internal/algo"
	"github.com/samcharles93/quanta/internal/ep"
	"github.com/samcharles93/quanta/internal/graph"
	"github.com/samcharles93/quanta/pkg/quant"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// statusFor maps an engine error to an HTTP status and error type.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, quant.ErrShape),
		errors.Is(err, algo.ErrInvalidOptions):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, quant.ErrUnsupportedType),
		errors.Is(err, quant.ErrNotImplemented),
		errors.Is(err, ep.ErrUnsupportedBackendOrOp),
		errors.Is(err, algo.ErrUnknownAlgorithm):
		return http.StatusUnprocessableEntity, "unsupported_error"
	case errors.Is(err, graph.ErrNotFound):
		return http.StatusNotFound, "not_found_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
