package app

import "errors"

// ErrNotFound and related errors describe validation and runtime failures.
var (
	ErrNotFound          = errors.New("not found")
	ErrPersistence       = errors.New("persistence failed")
	ErrGestureInProgress = errors.New("gesture in progress")
	ErrNoGesture         = errors.New("no active gesture")
	ErrFilesUnavailable  = errors.New("file storage unavailable")
)
