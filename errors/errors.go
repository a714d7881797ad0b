package errors

import "fmt"

var (
	ErrWorkerPanic      = fmt.Errorf("worker panic")
	ErrSendBufferFull   = fmt.Errorf("connection send buffer full")
	ErrConnectionClosed = fmt.Errorf("connection closed")
	ErrUnknownEvent     = fmt.Errorf("unknown event type")
)
