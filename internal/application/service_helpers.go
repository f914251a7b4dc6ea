package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/viralforge/chainraise/internal/domain"
	"github.com/viralforge/chainraise/internal/observability"
	"github.com/viralforge/chainraise/internal/ports"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const registryLockKey = "registry"

var tracer = otel.Tracer("github.com/viralforge/chainraise/internal/application")

func campaignLockKey(id uint64) string { return "campaign:" + strconv.FormatUint(id, 10) }

type heldLock struct {
	key    string
	parent *heldLock
}

type heldLockCtxKey struct{}

func holdsLock(ctx context.Context, key string) bool {
	h, _ := ctx.Value(heldLockCtxKey{}).(*heldLock)
	for ; h != nil; h = h.parent {
		if h.key == key {
			return true
		}
	}
	return false
}

// withLock runs fn while owning key. The context handed to fn (and from there to the
// gateway) records ownership, so a callback that re-enters the same key fails with
// ErrReentrantCall instead of deadlocking on its own lock.
func (s *Service) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if holdsLock(ctx, key) {
		return domain.ErrReentrantCall
	}
	release, err := s.locker.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	parent, _ := ctx.Value(heldLockCtxKey{}).(*heldLock)
	return fn(context.WithValue(ctx, heldLockCtxKey{}, &heldLock{key: key, parent: parent}))
}

func requireCaller(actor Actor) (string, error) {
	caller := domain.NormalizePrincipal(actor.SubjectID)
	if caller == "" {
		return "", domain.ErrUnauthorized
	}
	return caller, nil
}

// loadCampaign resolves id for a settlement operation; unknown ids are InvalidCampaign.
func loadCampaign(ctx context.Context, repo ports.CampaignRepository, id uint64) (domain.Campaign, error) {
	if id == 0 {
		return domain.Campaign{}, domain.ErrInvalidCampaign
	}
	c, err := repo.GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Campaign{}, domain.ErrInvalidCampaign
	}
	return c, err
}

func isGatewayError(err error) bool {
	return errors.Is(err, ports.ErrInsufficientBalance) ||
		errors.Is(err, ports.ErrInsufficientAllowance) ||
		errors.Is(err, ports.ErrTransferFailed)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case isGatewayError(err):
		return "gateway_rejected"
	case errors.Is(err, domain.ErrReentrantCall):
		return "reentrant"
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrIdempotencyConflict),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidToken),
		errors.Is(err, domain.ErrDeadlineInThePast),
		errors.Is(err, domain.ErrInvalidCampaign),
		errors.Is(err, domain.ErrDeadlineReached),
		errors.Is(err, domain.ErrInvalidCaller),
		errors.Is(err, domain.ErrNotFunder),
		errors.Is(err, domain.ErrAlreadyClosed),
		errors.Is(err, domain.ErrGoalNotReached):
		return "rejected"
	default:
		return "error"
	}
}

func (s *Service) observe(ctx context.Context, operation string, err error) {
	observability.RecordSettlement(operation, outcomeOf(err))
	if err != nil && outcomeOf(err) == "error" {
		s.logger.ErrorContext(ctx, "operation failed",
			"operation", operation,
			"outcome", "failure",
			"error", err,
		)
	}
}

func traceStart(ctx context.Context, name string) (context.Context, func(err error)) {
	ctx, span := tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// runIdempotent replays a completed response for the same (subject, operation, key)
// and refuses a reused key with a different request body. Failed attempts release
// their reservation so the caller may retry after fixing balances or approvals. If the
// response cannot be recorded the reservation stays in place until it expires, so the
// operation is never executed twice under one key.
func runIdempotent[T any](ctx context.Context, s *Service, actor Actor, operation string, request any, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	key := strings.TrimSpace(actor.IdempotencyKey)
	if s.idempotency == nil || key == "" {
		return fn(ctx)
	}
	key = domain.NormalizePrincipal(actor.SubjectID) + ":" + operation + ":" + key
	requestHash := hashJSON(request)
	now := s.clock.Now()

	rec, err := s.idempotency.Get(ctx, key, now)
	if err != nil {
		return zero, err
	}
	if rec != nil {
		if rec.RequestHash != requestHash || len(rec.ResponseBody) == 0 {
			return zero, domain.ErrIdempotencyConflict
		}
		var cached T
		if err := json.Unmarshal(rec.ResponseBody, &cached); err != nil {
			return zero, err
		}
		return cached, nil
	}
	if err := s.idempotency.Reserve(ctx, key, requestHash, now.Add(s.cfg.IdempotencyTTL)); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return zero, domain.ErrIdempotencyConflict
		}
		return zero, err
	}
	out, err := fn(ctx)
	if err != nil {
		if releaseErr := s.idempotency.Release(ctx, key); releaseErr != nil {
			s.logger.ErrorContext(ctx, "idempotency reservation not released",
				"operation", operation,
				"outcome", "failure",
				"idempotency_key", key,
				"error", releaseErr,
			)
		}
		return zero, err
	}
	body, err := json.Marshal(out)
	if err == nil {
		err = s.idempotency.Complete(ctx, key, 200, body, s.clock.Now())
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "idempotent response not recorded; key stays reserved until expiry",
			"operation", operation,
			"outcome", "failure",
			"idempotency_key", key,
			"error", err,
		)
	}
	return out, nil
}

func hashJSON(v any) string {
	b, _ := json.Marshal(v)
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
