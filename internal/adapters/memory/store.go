package memory

import (
	"context"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"github.com/viralforge/chainraise/internal/domain"
	"github.com/viralforge/chainraise/internal/ports"
)

type contributionKey struct {
	campaignID uint64
	funder     string
}

// Store keeps registry, ledger, outbox and idempotency state in process. Writes made
// inside WithinTx are staged and applied together on commit, so readers never see a
// partially applied operation.
type Store struct {
	mu            sync.RWMutex
	lastID        uint64
	campaigns     map[uint64]domain.Campaign
	contributions map[contributionKey]*big.Int
	outbox        []ports.OutboxRecord
	outboxIndex   map[uuid.UUID]int
	idempotency   map[string]ports.IdempotencyRecord
}

func NewStore() *Store {
	return &Store{
		campaigns:     make(map[uint64]domain.Campaign),
		contributions: make(map[contributionKey]*big.Int),
		outboxIndex:   make(map[uuid.UUID]int),
		idempotency:   make(map[string]ports.IdempotencyRecord),
	}
}

func (s *Store) Campaigns() ports.CampaignRepository { return &campaignRepository{store: s} }

func (s *Store) Contributions() ports.ContributionRepository {
	return &contributionRepository{store: s}
}

func (s *Store) Outbox() ports.OutboxRepository { return &outboxRepository{store: s} }

func (s *Store) Idempotency() ports.IdempotencyRepository {
	return &idempotencyRepository{store: s}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ports.TxRepositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &unitOfWork{
		store:         s,
		campaigns:     make(map[uint64]domain.Campaign),
		contributions: make(map[contributionKey]*big.Int),
	}
	repos := ports.TxRepositories{
		Campaigns:     &campaignRepository{store: s, tx: tx},
		Contributions: &contributionRepository{store: s, tx: tx},
		Outbox:        &outboxRepository{store: s, tx: tx},
	}
	if err := fn(ctx, repos); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

type unitOfWork struct {
	store         *Store
	lastID        *uint64
	campaigns     map[uint64]domain.Campaign
	contributions map[contributionKey]*big.Int
	outbox        []ports.OutboxRecord
}

func (s *Store) commit(tx *unitOfWork) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.lastID != nil && *tx.lastID > s.lastID {
		s.lastID = *tx.lastID
	}
	for id, c := range tx.campaigns {
		s.campaigns[id] = c
	}
	for key, amount := range tx.contributions {
		if amount.Sign() == 0 {
			delete(s.contributions, key)
			continue
		}
		s.contributions[key] = amount
	}
	for _, rec := range tx.outbox {
		s.appendOutboxLocked(rec)
	}
}

func (s *Store) appendOutboxLocked(rec ports.OutboxRecord) {
	s.outboxIndex[rec.OutboxID] = len(s.outbox)
	s.outbox = append(s.outbox, rec)
}
