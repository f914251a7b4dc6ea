package domain

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidInput         = errors.New("invalid input")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrIdempotencyConflict  = errors.New("idempotency conflict")
	ErrUnsupportedEventType = errors.New("unsupported event type")

	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidToken      = errors.New("invalid token")
	ErrDeadlineInThePast = errors.New("deadline in the past")
	ErrInvalidCampaign   = errors.New("invalid campaign")
	ErrDeadlineReached   = errors.New("deadline reached")
	ErrInvalidCaller     = errors.New("invalid caller")
	ErrNotFunder         = errors.New("not funder")
	ErrAlreadyClosed     = errors.New("already closed")
	ErrGoalNotReached    = errors.New("goal not reached")
	ErrReentrantCall     = errors.New("reentrant call")
)

// DeadlineReachedError carries the clock reading that tripped the funding window.
type DeadlineReachedError struct {
	Now time.Time
}

func (e *DeadlineReachedError) Error() string {
	return fmt.Sprintf("%s: now=%d", ErrDeadlineReached, e.Now.Unix())
}

func (e *DeadlineReachedError) Is(target error) bool { return target == ErrDeadlineReached }

// InvalidCallerError carries the principal that was expected to call.
type InvalidCallerError struct {
	Expected string
}

func (e *InvalidCallerError) Error() string {
	return fmt.Sprintf("%s: expected=%s", ErrInvalidCaller, e.Expected)
}

func (e *InvalidCallerError) Is(target error) bool { return target == ErrInvalidCaller }

// GoalNotReachedError carries the raised total at the time of the attempt.
type GoalNotReachedError struct {
	Raised *big.Int
}

func (e *GoalNotReachedError) Error() string {
	return fmt.Sprintf("%s: raised=%s", ErrGoalNotReached, amountString(e.Raised))
}

func (e *GoalNotReachedError) Is(target error) bool { return target == ErrGoalNotReached }
