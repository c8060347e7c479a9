package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"light/shielded-pool/computation"
	"light/shielded-pool/ledger"
	"light/shielded-pool/logging"
)

type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func malformedBodyError(err error) *Error {
	return &Error{StatusCode: http.StatusBadRequest, Code: "malformed_body", Message: err.Error()}
}

func unexpectedError(err error) *Error {
	return &Error{StatusCode: http.StatusInternalServerError, Code: "unexpected_error", Message: err.Error()}
}

func notFoundError(message string) *Error {
	return &Error{StatusCode: http.StatusNotFound, Code: "not_found", Message: message}
}

// protocolError maps a ledger or dispatcher error onto a response by its category.
func protocolError(err error) *Error {
	category := computation.CategoryOf(err)
	e := &Error{Code: string(category), Message: err.Error()}
	switch category {
	case computation.CategoryValidation:
		e.StatusCode = http.StatusBadRequest
	case computation.CategoryProof:
		e.StatusCode = http.StatusUnprocessableEntity
	case computation.CategoryReplay:
		e.StatusCode = http.StatusConflict
	case computation.CategoryUnauthorized:
		e.StatusCode = http.StatusForbidden
	default:
		e.StatusCode = http.StatusInternalServerError
		if errors.Is(err, computation.ErrEngineUnavailable) {
			e.StatusCode = http.StatusServiceUnavailable
			e.Code = "engine_unavailable"
		}
	}
	if errors.Is(err, ledger.ErrNotInitialised) || errors.Is(err, ledger.ErrTreeNotInitialised) || errors.Is(err, ledger.ErrPoolNotInitialised) {
		e.StatusCode = http.StatusNotFound
	}
	return e
}

func (error *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"code":    error.Code,
		"message": error.Message,
	})
}

func (error *Error) send(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(error.StatusCode)
	jsonBytes, err := error.MarshalJSON()
	if err != nil {
		jsonBytes = []byte(`{"code": "unexpected_error", "message": "failed to marshal error"}`)
	}
	length, err := w.Write(jsonBytes)
	if err != nil || length != len(jsonBytes) {
		logging.Logger().Error().Err(err).Msg("error writing response")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Logger().Error().Err(err).Msg("error writing response")
	}
}
