/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package stopthebus

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown              Code = "UNKNOWN"
	CodeInvalidInput         Code = "INVALID_INPUT"
	CodeRoomNotFound         Code = "ROOM_NOT_FOUND"
	CodeForbidden            Code = "FORBIDDEN"
	CodeAlreadyStarted       Code = "ALREADY_STARTED"
	CodeGameNotStarted       Code = "GAME_NOT_STARTED"
	CodeGameFinished         Code = "GAME_FINISHED"
	CodeNoCategories         Code = "NO_CATEGORIES"
	CodeDuplicatePlayer      Code = "DUPLICATE_PLAYER"
	CodeUnknownPlayer        Code = "UNKNOWN_PLAYER"
	CodeDuplicateSubmission  Code = "DUPLICATE_SUBMISSION"
	CodeIncompleteAnswers    Code = "INCOMPLETE_ANSWERS"
	CodeCodeGenerationFailed Code = "CODE_GENERATION_FAILED"
	CodeRateLimited          Code = "RATE_LIMITED"
)

// HTTPStatus maps a code to the status the gateway responds with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRoomNotFound:
		return http.StatusNotFound
	case CodeAlreadyStarted,
		CodeGameNotStarted,
		CodeGameFinished,
		CodeDuplicatePlayer,
		CodeDuplicateSubmission:
		return http.StatusConflict
	case CodeNoCategories,
		CodeUnknownPlayer,
		CodeIncompleteAnswers:
		return http.StatusUnprocessableEntity
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeCodeGenerationFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is the engine's error type. Message is safe to show to players.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidInput         = newError(CodeInvalidInput, "invalid input")
	ErrRoomNotFound         = newError(CodeRoomNotFound, "room not found")
	ErrForbidden            = newError(CodeForbidden, "only the host may do that")
	ErrAlreadyStarted       = newError(CodeAlreadyStarted, "the game has already started")
	ErrGameNotStarted       = newError(CodeGameNotStarted, "the game has not started")
	ErrGameFinished         = newError(CodeGameFinished, "the game is over")
	ErrNoCategories         = newError(CodeNoCategories, "no categories have been chosen")
	ErrDuplicatePlayer      = newError(CodeDuplicatePlayer, "that name is already taken")
	ErrUnknownPlayer        = newError(CodeUnknownPlayer, "no such player in this room")
	ErrDuplicateSubmission  = newError(CodeDuplicateSubmission, "answers already submitted this round")
	ErrIncompleteAnswers    = newError(CodeIncompleteAnswers, "every category needs an answer")
	ErrCodeGenerationFailed = newError(CodeCodeGenerationFailed, "unable to allocate a room code")
	ErrRateLimited          = newError(CodeRateLimited, "too many requests, slow down")
)

// CodeOf extracts the code from err, or CodeUnknown.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
