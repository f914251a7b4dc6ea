package ports

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/chainraise/internal/domain"
)

// CampaignRepository is the registry's storage. LastID is the registry counter and
// equals the number of campaigns ever created.
type CampaignRepository interface {
	NextID(ctx context.Context) (uint64, error)
	LastID(ctx context.Context) (uint64, error)
	Create(ctx context.Context, row domain.Campaign) error
	GetByID(ctx context.Context, id uint64) (domain.Campaign, error)
	Update(ctx context.Context, row domain.Campaign) error
}

// ContributionRepository holds per-funder outstanding stakes. Get returns zero for
// unknown keys.
type ContributionRepository interface {
	Get(ctx context.Context, campaignID uint64, funder string) (*big.Int, error)
	Set(ctx context.Context, campaignID uint64, funder string, amount *big.Int) error
}

type OutboxRecord struct {
	OutboxID     uuid.UUID
	EventType    string
	PartitionKey string
	Payload      []byte
	RetryCount   int
	CreatedAt    time.Time
	PublishedAt  *time.Time
	LastError    string
	LastErrorAt  *time.Time
	DeadLettered *time.Time
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, record OutboxRecord) error
	FetchUnpublished(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, errMsg string, at time.Time) error
	// MarkDeadLettered parks a record that exhausted its retries. FetchUnpublished
	// no longer returns it.
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, errMsg string, at time.Time) error
}

type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseCode int
	ResponseBody []byte
	ExpiresAt    time.Time
}

type IdempotencyRepository interface {
	Get(ctx context.Context, key string, now time.Time) (*IdempotencyRecord, error)
	Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error
	Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error
	Release(ctx context.Context, key string) error
}

// TxRepositories are bound to one unit of work. Reads through them observe the
// unit's own staged writes.
type TxRepositories struct {
	Campaigns     CampaignRepository
	Contributions ContributionRepository
	Outbox        OutboxRepository
}

// Transactor runs fn as one all-or-nothing unit: any error returned by fn discards
// every write made through repos.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos TxRepositories) error) error
}
