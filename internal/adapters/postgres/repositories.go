package postgres

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/chainraise/internal/domain"
	"github.com/viralforge/chainraise/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repositories struct {
	Campaigns     ports.CampaignRepository
	Contributions ports.ContributionRepository
	Outbox        ports.OutboxRepository
	Idempotency   ports.IdempotencyRepository
	Transactor    ports.Transactor
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Campaigns:     &campaignRepository{db: db},
		Contributions: &contributionRepository{db: db},
		Outbox:        &outboxRepository{db: db},
		Idempotency:   &idempotencyRepository{db: db},
		Transactor:    &transactor{db: db},
	}
}

type transactor struct {
	db *gorm.DB
}

func (t *transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ports.TxRepositories) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, ports.TxRepositories{
			Campaigns:     &campaignRepository{db: tx, inTx: true},
			Contributions: &contributionRepository{db: tx},
			Outbox:        &outboxRepository{db: tx},
		})
	})
}

type campaignRepository struct {
	db   *gorm.DB
	inTx bool
}

// NextID bumps the registry row. Inside a transaction the row lock is held until
// commit, so concurrent creators across processes receive dense ids.
func (r *campaignRepository) NextID(ctx context.Context) (uint64, error) {
	if !r.inTx {
		var id uint64
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			id, err = (&campaignRepository{db: tx, inTx: true}).NextID(ctx)
			return err
		})
		return id, err
	}
	res := r.db.WithContext(ctx).Model(&registryModel{}).
		Where("id = ?", 1).
		Update("last_id", gorm.Expr("last_id + 1"))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, errors.New("campaign registry row missing; run migrations")
	}
	return r.LastID(ctx)
}

func (r *campaignRepository) LastID(ctx context.Context) (uint64, error) {
	var row registryModel
	if err := r.db.WithContext(ctx).Where("id = ?", 1).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return row.LastID, nil
}

func (r *campaignRepository) Create(ctx context.Context, row domain.Campaign) error {
	m := toCampaignModel(row)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

// GetByID inside a unit of work takes the row lock, so settlement on one campaign is
// serialized by the database even when a distributed lock lease has lapsed.
func (r *campaignRepository) GetByID(ctx context.Context, id uint64) (domain.Campaign, error) {
	var m campaignModel
	if err := r.campaignQuery(ctx).Where("campaign_id = ?", id).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Campaign{}, domain.ErrNotFound
		}
		return domain.Campaign{}, err
	}
	return fromCampaignModel(m)
}

func (r *campaignRepository) campaignQuery(ctx context.Context) *gorm.DB {
	q := r.db.WithContext(ctx)
	if r.inTx {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

// Update persists the mutable settlement fields. Creator, asset, goal, deadline and
// description are fixed at creation.
func (r *campaignRepository) Update(ctx context.Context, row domain.Campaign) error {
	res := r.db.WithContext(ctx).Model(&campaignModel{}).
		Where("campaign_id = ?", row.ID).
		Updates(map[string]any{
			"raised":     toAmountColumn(row.Raised),
			"closed":     row.Closed,
			"updated_at": row.UpdatedAt.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type contributionRepository struct {
	db *gorm.DB
}

func (r *contributionRepository) Get(ctx context.Context, campaignID uint64, funder string) (*big.Int, error) {
	var m contributionModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND funder = ?", campaignID, domain.NormalizePrincipal(funder)).
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return new(big.Int), nil
		}
		return nil, err
	}
	return fromAmountColumn(m.Amount)
}

func (r *contributionRepository) Set(ctx context.Context, campaignID uint64, funder string, amount *big.Int) error {
	if amount != nil && amount.Sign() < 0 {
		return domain.ErrInvalidAmount
	}
	m := contributionModel{
		CampaignID: campaignID,
		Funder:     domain.NormalizePrincipal(funder),
		Amount:     toAmountColumn(amount),
		UpdatedAt:  time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "funder"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
	}).Create(&m).Error
}

type outboxRepository struct {
	db *gorm.DB
}

func (r *outboxRepository) Enqueue(ctx context.Context, record ports.OutboxRecord) error {
	m := outboxModel{
		OutboxID:     record.OutboxID,
		EventType:    record.EventType,
		PartitionKey: record.PartitionKey,
		Payload:      string(record.Payload),
		CreatedAt:    record.CreatedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (r *outboxRepository) FetchUnpublished(ctx context.Context, limit int) ([]ports.OutboxRecord, error) {
	var rows []outboxModel
	q := r.db.WithContext(ctx).Where("published_at IS NULL AND dead_lettered_at IS NULL").Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ports.OutboxRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromOutboxModel(row))
	}
	return out, nil
}

func (r *outboxRepository) MarkPublished(ctx context.Context, outboxID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&outboxModel{}).Where("outbox_id = ?", outboxID).Update("published_at", at.UTC()).Error
}

func (r *outboxRepository) MarkFailed(ctx context.Context, outboxID uuid.UUID, errMsg string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&outboxModel{}).Where("outbox_id = ?", outboxID).Updates(map[string]any{
		"retry_count":   gorm.Expr("retry_count + 1"),
		"last_error":    errMsg,
		"last_error_at": at.UTC(),
	}).Error
}

func (r *outboxRepository) MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, errMsg string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&outboxModel{}).Where("outbox_id = ?", outboxID).Updates(map[string]any{
		"last_error":       errMsg,
		"last_error_at":    at.UTC(),
		"dead_lettered_at": at.UTC(),
	}).Error
}

type idempotencyRepository struct {
	db *gorm.DB
}

func (r *idempotencyRepository) Get(ctx context.Context, key string, now time.Time) (*ports.IdempotencyRecord, error) {
	var rec idempotencyModel
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !now.Before(rec.ExpiresAt) {
		if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).Delete(&idempotencyModel{}).Error; err != nil {
			return nil, err
		}
		return nil, nil
	}
	out := &ports.IdempotencyRecord{
		Key:          rec.IdempotencyKey,
		RequestHash:  rec.RequestHash,
		ResponseCode: rec.ResponseCode,
		ExpiresAt:    rec.ExpiresAt.UTC(),
	}
	if rec.ResponseBody != nil {
		out.ResponseBody = []byte(*rec.ResponseBody)
	}
	return out, nil
}

func (r *idempotencyRepository) Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error {
	now := time.Now().UTC()
	rec := idempotencyModel{
		IdempotencyKey: key,
		RequestHash:    requestHash,
		ExpiresAt:      expiresAt.UTC(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (r *idempotencyRepository) Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error {
	payload := string(responseBody)
	return r.db.WithContext(ctx).Model(&idempotencyModel{}).
		Where("idempotency_key = ?", key).
		Updates(map[string]any{
			"response_code": responseCode,
			"response_body": payload,
			"updated_at":    at.UTC(),
		}).Error
}

func (r *idempotencyRepository) Release(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Where("idempotency_key = ?", key).Delete(&idempotencyModel{}).Error
}
