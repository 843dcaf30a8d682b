package api

import (
	"fmt"
	"net/http"
	"strings"
)

// ApiError is the wire form of every failed request: a bare
// {"error": message} body alongside the HTTP status.
type ApiError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func NewBadRequestError(message string) *ApiError {
	if message == "" {
		message = lower(http.StatusText(http.StatusBadRequest))
	}
	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
	}
}

// NewForbiddenError carries one fixed message for every rejected token
// check, whether or not the room exists.
func NewForbiddenError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusForbidden,
		Message:    "invalid room or token",
	}
}

func NewNotFoundError() *ApiError {
	return &ApiError{
		StatusCode: http.StatusNotFound,
		Message:    lower(http.StatusText(http.StatusNotFound)),
	}
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Message:    lower(http.StatusText(http.StatusInternalServerError)),
		Err:        err,
	}
}
