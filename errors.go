package plum

import "errors"

// Input / spec validation errors
var (
	ErrInvalidInput = errors.New("plum: inputs failed process spec validation")
	ErrSpecSealed   = errors.New("plum: process spec is sealed")
	ErrUnknownPort  = errors.New("plum: unknown port")
	ErrPortSet      = errors.New("plum: output port already has a value")
)

// State machine errors
var (
	ErrIllegalTransition = errors.New("plum: illegal process state transition")
	ErrNotWaiting        = errors.New("plum: process is not in the waiting state")
	ErrAlreadyTerminal   = errors.New("plum: process has already reached a terminal state")
)

// Future errors
var (
	ErrCancelled     = errors.New("plum: future was cancelled")
	ErrTimeout       = errors.New("plum: timed out waiting for future")
	ErrFutureNotDone = errors.New("plum: future does not have a result yet")
	ErrAlreadyDone   = errors.New("plum: future is already done")
)

// Loop / task errors
var (
	ErrAlreadyInLoop    = errors.New("plum: object is already inserted into a loop")
	ErrNotInLoop        = errors.New("plum: object is not inserted into any loop")
	ErrCrossLoopObject  = errors.New("plum: object belongs to a different loop")
	ErrFutureAlreadySet = errors.New("plum: task future has already been set")
)

// Persistence / class loader errors
var (
	ErrUnsupported   = errors.New("plum: wait-on cannot be saved or loaded")
	ErrLockHeld      = errors.New("plum: pid is locked by another persistence attempt")
	ErrClassNotFound = errors.New("plum: class loader could not resolve class_name")
)

// Listener errors
var (
	ErrBadListenerSignature = errors.New("plum: listener does not have the required signature")
)
