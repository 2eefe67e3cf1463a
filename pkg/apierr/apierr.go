// Copyright 2025 Certen Protocol
//
// Package apierr maps the error taxonomy of spec §7 to HTTP status
// codes in exactly one place, following the teacher's
// pkg/database / pkg/batch convention of sentinel errors translated at
// a single boundary rather than scattered w.WriteHeader calls.
package apierr

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
)

// Code is one taxonomy entry.
type Code string

const (
	ClientMalformed          Code = "client_malformed"
	ContentLengthRequired    Code = "content_length_required"
	PayloadTooLarge          Code = "payload_too_large"
	Unauthorized             Code = "unauthorized"
	InsufficientBalance      Code = "insufficient_balance"
	PaymentRequired          Code = "payment_required"
	PaymentVerificationFailed Code = "payment_verification_failed"
	PaymentSettlementFailed  Code = "payment_settlement_failed"
	NotFound                 Code = "not_found"
	Conflict                 Code = "conflict"
	UpstreamUnavailable      Code = "upstream_unavailable"
	Internal                 Code = "internal"
)

var statusByCode = map[Code]int{
	ClientMalformed:           http.StatusBadRequest,
	ContentLengthRequired:     http.StatusBadRequest,
	PayloadTooLarge:           http.StatusRequestEntityTooLarge,
	Unauthorized:              http.StatusUnauthorized,
	InsufficientBalance:       http.StatusPaymentRequired,
	PaymentRequired:           http.StatusPaymentRequired,
	PaymentVerificationFailed: http.StatusUnprocessableEntity,
	PaymentSettlementFailed:   http.StatusUnprocessableEntity,
	NotFound:                  http.StatusNotFound,
	Conflict:                  http.StatusConflict,
	UpstreamUnavailable:       http.StatusServiceUnavailable,
	Internal:                  http.StatusInternalServerError,
}

// Error is a taxonomy-tagged error carrying an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a tagged error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap tags an existing error with a taxonomy code.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// body is the JSON shape written to the client.
type body struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Write maps err to an HTTP status and writes a JSON body. Internal
// errors are logged with correlation and never expose their cause to
// the client, per spec §7's propagation policy.
func Write(w http.ResponseWriter, logger *log.Logger, correlationID string, err error) {
	var tagged *Error
	if !errors.As(err, &tagged) {
		tagged = &Error{Code: Internal, Message: "internal error", Cause: err}
	}

	status, ok := statusByCode[tagged.Code]
	if !ok {
		status = http.StatusInternalServerError
	}

	if tagged.Code == Internal {
		if logger != nil {
			logger.Printf("correlation=%s internal error: %v", correlationID, tagged.Cause)
		}
		writeJSON(w, status, body{Error: "internal error", Code: string(Internal)})
		return
	}

	writeJSON(w, status, body{Error: tagged.Message, Code: string(tagged.Code)})
}

func writeJSON(w http.ResponseWriter, status int, b body) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(b)
}
