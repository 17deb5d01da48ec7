package board

import "errors"

var (
	ErrUnknownEntity    = errors.New("unknown entity")
	ErrDoubleTransition = errors.New("gesture already committed")
	ErrGestureFinished  = errors.New("gesture already finished")
)
