package errval

import (
	"errors"
)

var (
	ErrInternal     = errors.New("internal server error")
	ErrNotFound     = errors.New("not found")
	ErrNotLoggedIn  = errors.New("not logged in to the remote service")
	ErrAlreadyRuns  = errors.New("a worker for this queue is already running")
	ErrEmptyLink    = errors.New("share link is empty")
	ErrInvalidInput = errors.New("invalid input")
)
