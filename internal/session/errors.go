package session

import "errors"

var (
	// ErrBusy rejects an operation while another one is in flight.
	ErrBusy = errors.New("session is busy")
	// ErrEmptyInput is a precondition failure: nothing pending or blank text.
	ErrEmptyInput = errors.New("nothing to send")
	ErrNotFound   = errors.New("session not found")
)
