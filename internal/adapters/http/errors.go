package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/viralforge/chainraise/internal/domain"
	"github.com/viralforge/chainraise/internal/ports"
)

type mappedError struct {
	status  int
	code    string
	message string
	details map[string]any
}

// mapDomainError turns service errors into a status, a stable code and the details a
// client needs to act. Gateway failures keep their own message.
func mapDomainError(err error) mappedError {
	var (
		deadline *domain.DeadlineReachedError
		caller   *domain.InvalidCallerError
		goal     *domain.GoalNotReachedError
	)
	switch {
	case errors.Is(err, ports.ErrInsufficientBalance),
		errors.Is(err, ports.ErrInsufficientAllowance),
		errors.Is(err, ports.ErrTransferFailed):
		return mappedError{http.StatusUnprocessableEntity, "GATEWAY_REJECTED", err.Error(), nil}
	case errors.As(err, &deadline):
		return mappedError{http.StatusConflict, "DEADLINE_REACHED", domain.ErrDeadlineReached.Error(), map[string]any{"now": deadline.Now.Unix()}}
	case errors.As(err, &caller):
		return mappedError{http.StatusForbidden, "INVALID_CALLER", domain.ErrInvalidCaller.Error(), map[string]any{"expected": caller.Expected}}
	case errors.As(err, &goal):
		return mappedError{http.StatusConflict, "GOAL_NOT_REACHED", domain.ErrGoalNotReached.Error(), map[string]any{"raised": domain.CloneAmount(goal.Raised).String()}}
	case errors.Is(err, domain.ErrInvalidAmount):
		return mappedError{http.StatusUnprocessableEntity, "INVALID_AMOUNT", err.Error(), nil}
	case errors.Is(err, domain.ErrInvalidToken):
		return mappedError{http.StatusUnprocessableEntity, "INVALID_TOKEN", err.Error(), nil}
	case errors.Is(err, domain.ErrDeadlineInThePast):
		return mappedError{http.StatusUnprocessableEntity, "DEADLINE_IN_THE_PAST", err.Error(), nil}
	case errors.Is(err, domain.ErrInvalidCampaign):
		return mappedError{http.StatusNotFound, "INVALID_CAMPAIGN", err.Error(), nil}
	case errors.Is(err, domain.ErrNotFunder):
		return mappedError{http.StatusForbidden, "NOT_FUNDER", err.Error(), nil}
	case errors.Is(err, domain.ErrAlreadyClosed):
		return mappedError{http.StatusConflict, "ALREADY_CLOSED", err.Error(), nil}
	case errors.Is(err, domain.ErrReentrantCall):
		return mappedError{http.StatusConflict, "REENTRANT_CALL", err.Error(), nil}
	case errors.Is(err, domain.ErrInvalidInput):
		return mappedError{http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil}
	case errors.Is(err, domain.ErrUnauthorized):
		return mappedError{http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials", nil}
	case errors.Is(err, domain.ErrNotFound):
		return mappedError{http.StatusNotFound, "NOT_FOUND", "resource not found", nil}
	case errors.Is(err, domain.ErrIdempotencyConflict), errors.Is(err, domain.ErrConflict):
		return mappedError{http.StatusConflict, "CONFLICT", err.Error(), nil}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return mappedError{http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service unavailable", nil}
	default:
		return mappedError{http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", nil}
	}
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	m := mapDomainError(err)
	writeError(w, m.status, m.code, m.message, requestIDFromContext(r.Context()), m.details)
}
