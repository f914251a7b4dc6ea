package memory

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/chainraise/internal/domain"
	"github.com/viralforge/chainraise/internal/ports"
)

// Repositories with a nil tx write straight through to the store.

type campaignRepository struct {
	store *Store
	tx    *unitOfWork
}

func (r *campaignRepository) NextID(ctx context.Context) (uint64, error) {
	if r.tx == nil {
		r.store.mu.Lock()
		defer r.store.mu.Unlock()
		r.store.lastID++
		return r.store.lastID, nil
	}
	last, err := r.LastID(ctx)
	if err != nil {
		return 0, err
	}
	next := last + 1
	r.tx.lastID = &next
	return next, nil
}

func (r *campaignRepository) LastID(context.Context) (uint64, error) {
	if r.tx != nil && r.tx.lastID != nil {
		return *r.tx.lastID, nil
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.lastID, nil
}

func (r *campaignRepository) Create(ctx context.Context, row domain.Campaign) error {
	if _, err := r.GetByID(ctx, row.ID); err == nil {
		return domain.ErrConflict
	}
	return r.put(row)
}

func (r *campaignRepository) GetByID(_ context.Context, id uint64) (domain.Campaign, error) {
	if r.tx != nil {
		if c, ok := r.tx.campaigns[id]; ok {
			return c.Clone(), nil
		}
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	c, ok := r.store.campaigns[id]
	if !ok {
		return domain.Campaign{}, domain.ErrNotFound
	}
	return c.Clone(), nil
}

func (r *campaignRepository) Update(ctx context.Context, row domain.Campaign) error {
	if _, err := r.GetByID(ctx, row.ID); err != nil {
		return err
	}
	return r.put(row)
}

func (r *campaignRepository) put(row domain.Campaign) error {
	row = row.Clone()
	if r.tx != nil {
		r.tx.campaigns[row.ID] = row
		return nil
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.campaigns[row.ID] = row
	if row.ID > r.store.lastID {
		r.store.lastID = row.ID
	}
	return nil
}

type contributionRepository struct {
	store *Store
	tx    *unitOfWork
}

func (r *contributionRepository) Get(_ context.Context, campaignID uint64, funder string) (*big.Int, error) {
	key := contributionKey{campaignID: campaignID, funder: domain.NormalizePrincipal(funder)}
	if r.tx != nil {
		if v, ok := r.tx.contributions[key]; ok {
			return domain.CloneAmount(v), nil
		}
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return domain.CloneAmount(r.store.contributions[key]), nil
}

func (r *contributionRepository) Set(_ context.Context, campaignID uint64, funder string, amount *big.Int) error {
	key := contributionKey{campaignID: campaignID, funder: domain.NormalizePrincipal(funder)}
	amount = domain.CloneAmount(amount)
	if amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	if r.tx != nil {
		r.tx.contributions[key] = amount
		return nil
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if amount.Sign() == 0 {
		delete(r.store.contributions, key)
		return nil
	}
	r.store.contributions[key] = amount
	return nil
}

type outboxRepository struct {
	store *Store
	tx    *unitOfWork
}

func (r *outboxRepository) Enqueue(_ context.Context, record ports.OutboxRecord) error {
	record.Payload = append([]byte(nil), record.Payload...)
	if r.tx != nil {
		r.tx.outbox = append(r.tx.outbox, record)
		return nil
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.outboxIndex[record.OutboxID]; exists {
		return domain.ErrConflict
	}
	r.store.appendOutboxLocked(record)
	return nil
}

func (r *outboxRepository) FetchUnpublished(_ context.Context, limit int) ([]ports.OutboxRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]ports.OutboxRecord, 0)
	for _, rec := range r.store.outbox {
		if rec.PublishedAt != nil || rec.DeadLettered != nil {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *outboxRepository) MarkPublished(_ context.Context, outboxID uuid.UUID, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	idx, ok := r.store.outboxIndex[outboxID]
	if !ok {
		return domain.ErrNotFound
	}
	r.store.outbox[idx].PublishedAt = &at
	return nil
}

func (r *outboxRepository) MarkFailed(_ context.Context, outboxID uuid.UUID, errMsg string, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	idx, ok := r.store.outboxIndex[outboxID]
	if !ok {
		return domain.ErrNotFound
	}
	rec := &r.store.outbox[idx]
	rec.RetryCount++
	rec.LastError = errMsg
	rec.LastErrorAt = &at
	return nil
}

func (r *outboxRepository) MarkDeadLettered(_ context.Context, outboxID uuid.UUID, errMsg string, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	idx, ok := r.store.outboxIndex[outboxID]
	if !ok {
		return domain.ErrNotFound
	}
	rec := &r.store.outbox[idx]
	rec.LastError = errMsg
	rec.LastErrorAt = &at
	rec.DeadLettered = &at
	return nil
}

type idempotencyRepository struct {
	store *Store
}

func (r *idempotencyRepository) Get(_ context.Context, key string, now time.Time) (*ports.IdempotencyRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.idempotency[key]
	if !ok {
		return nil, nil
	}
	if !rec.ExpiresAt.IsZero() && !now.Before(rec.ExpiresAt) {
		delete(r.store.idempotency, key)
		return nil, nil
	}
	out := rec
	out.ResponseBody = append([]byte(nil), rec.ResponseBody...)
	return &out, nil
}

func (r *idempotencyRepository) Reserve(_ context.Context, key, requestHash string, expiresAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.idempotency[key]; ok {
		return domain.ErrConflict
	}
	r.store.idempotency[key] = ports.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		ExpiresAt:   expiresAt,
	}
	return nil
}

func (r *idempotencyRepository) Complete(_ context.Context, key string, responseCode int, responseBody []byte, _ time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.idempotency[key]
	if !ok {
		return domain.ErrNotFound
	}
	rec.ResponseCode = responseCode
	rec.ResponseBody = append([]byte(nil), responseBody...)
	r.store.idempotency[key] = rec
	return nil
}

func (r *idempotencyRepository) Release(_ context.Context, key string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.idempotency, key)
	return nil
}
