// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package utils

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/vechain/mpbft/core"
)

type httpError struct {
	cause  error
	status int
}

func (e *httpError) Error() string {
	return e.cause.Error()
}

func (e *httpError) Unwrap() error {
	return e.cause
}

// HTTPError create an error with http status code.
func HTTPError(cause error, status int) error {
	return &httpError{
		cause:  cause,
		status: status,
	}
}

// BadRequest convenience method to create http bad request error.
func BadRequest(cause error) error {
	return &httpError{
		cause:  cause,
		status: http.StatusBadRequest,
	}
}

// NotFound convenience method to create http not found error.
func NotFound(cause error) error {
	return &httpError{
		cause:  cause,
		status: http.StatusNotFound,
	}
}

// Forbidden convenience method to create http forbidden error.
func Forbidden(cause error) error {
	return &httpError{
		cause:  cause,
		status: http.StatusForbidden,
	}
}

// StatusOf maps an engine error to the http status it is responded with.
func StatusOf(err error) int {
	switch core.CodeOf(err) {
	case core.UnknownValidator, core.UnknownProposal:
		return http.StatusNotFound
	case core.AlreadyApplied, core.DuplicateValidator, core.DuplicateBallot, core.InvalidStatus:
		return http.StatusConflict
	}
	switch core.KindOf(err) {
	case core.ValidationError, core.ConsensusFault:
		return http.StatusBadRequest
	case core.ResourceError:
		return http.StatusUnprocessableEntity
	case core.FatalError:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// HandlerFunc like http.HandlerFunc, but it returns an error.
// If the returned error is httpError type, httpError.status will be responded,
// an engine error is responded with StatusOf, otherwise
// http.StatusInternalServerError.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// WrapHandlerFunc convert HandlerFunc to http.HandlerFunc.
func WrapHandlerFunc(f HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := f(w, r)
		if err == nil {
			return
		}
		var he *httpError
		if errors.As(err, &he) {
			if he.cause != nil {
				http.Error(w, he.cause.Error(), he.status)
			} else {
				w.WriteHeader(he.status)
			}
			return
		}
		http.Error(w, err.Error(), StatusOf(err))
	}
}

// content types
const (
	JSONContentType = "application/json; charset=utf-8"
)

// ParseJSON parse a JSON object using strict mode.
func ParseJSON(r io.Reader, v any) error {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// WriteJSON response an object in JSON encoding.
func WriteJSON(w http.ResponseWriter, obj any) error {
	w.Header().Set("Content-Type", JSONContentType)
	return json.NewEncoder(w).Encode(obj)
}

// M shortcut for type map[string]any.
type M map[string]any
