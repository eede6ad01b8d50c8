package event

import "errors"

var (
	// ErrStopFlush, returned by a Sender, ends the flush; the rest of the batch is dropped.
	ErrStopFlush = errors.New("flush stopped")
)
