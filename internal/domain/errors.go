package domain

import "errors"

var (
	// ErrUserNotFound is returned when the acting user cannot be resolved.
	ErrUserNotFound = errors.New("user not found")
	// ErrGameNotFound is returned when no game matches the lookup.
	ErrGameNotFound = errors.New("game not found")
	// ErrForbidden covers self-pairing, acting outside an active pair and answering past the last question.
	ErrForbidden = errors.New("forbidden")
	// ErrBadRequest indicates a malformed identifier.
	ErrBadRequest = errors.New("bad request")
	// ErrNotEnoughQuestions means the bank holds fewer published questions than a game needs.
	ErrNotEnoughQuestions = errors.New("not enough published questions")
)

// ResultCode is the transport-neutral outcome of a game operation.
type ResultCode string

const (
	CodeSuccess    ResultCode = "Success"
	CodeNotFound   ResultCode = "NotFound"
	CodeForbidden  ResultCode = "Forbidden"
	CodeBadRequest ResultCode = "BadRequest"
	// CodeInternal marks store or configuration failures.
	CodeInternal ResultCode = "Internal"
)

// CodeOf classifies err into a ResultCode.
func CodeOf(err error) ResultCode {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrGameNotFound):
		return CodeNotFound
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}
