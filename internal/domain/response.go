package domain

import (
	"errors"
	"net/http"
)

// Status is the outcome label carried by every response envelope.
type Status string

const (
	StatusSuccessful         Status = "REQUEST_SUCCESSFUL"
	StatusUnsuccessful       Status = "REQUEST_UNSUCCESSFUL"
	StatusServiceUnreachable Status = "SERVICE_UNREACHABLE"
)

// Response is the uniform envelope returned by every public engine operation.
type Response[T any] struct {
	StatusCode int    `json:"status_code"`
	Status     Status `json:"status"`
	Message    string `json:"message"`
	Data       T      `json:"data"`
}

// OK wraps a successful payload.
func OK[T any](data T, message string) Response[T] {
	return Response[T]{
		StatusCode: http.StatusOK,
		Status:     StatusSuccessful,
		Message:    message,
		Data:       data,
	}
}

// Fail maps err onto an envelope with the zero payload.
func Fail[T any](err error) Response[T] {
	var zero T
	return FailWith(zero, err)
}

// FailWith maps err onto an envelope while keeping a partial payload.
func FailWith[T any](data T, err error) Response[T] {
	code, status := classify(err)
	return Response[T]{
		StatusCode: code,
		Status:     status,
		Message:    err.Error(),
		Data:       data,
	}
}

// Succeeded reports whether the envelope carries a successful result.
func (r Response[T]) Succeeded() bool {
	return r.Status == StatusSuccessful
}

func classify(err error) (int, Status) {
	switch {
	case errors.Is(err, ErrInputValidation):
		return http.StatusBadRequest, StatusUnsuccessful
	case errors.Is(err, ErrInsufficientData):
		return http.StatusUnprocessableEntity, StatusUnsuccessful
	case errors.Is(err, ErrSourceUnreachable):
		return http.StatusServiceUnavailable, StatusServiceUnreachable
	default:
		return http.StatusInternalServerError, StatusUnsuccessful
	}
}
