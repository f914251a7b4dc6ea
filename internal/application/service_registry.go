package application

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/viralforge/chainraise/internal/domain"
	"github.com/viralforge/chainraise/internal/ports"
)

// CreateCampaign validates and registers a campaign. Goal is checked first, so a zero
// goal is always InvalidAmount; then the deadline, then the asset policy. Deadlines
// are whole unix seconds.
func (s *Service) CreateCampaign(ctx context.Context, actor Actor, input CreateCampaignInput) (out domain.Campaign, err error) {
	ctx, end := traceStart(ctx, "registry.create_campaign")
	defer func() { s.observe(ctx, "create_campaign", err); end(err) }()

	creator, err := requireCaller(actor)
	if err != nil {
		return domain.Campaign{}, err
	}
	goal := domain.CloneAmount(input.Goal)
	if goal.Sign() <= 0 {
		return domain.Campaign{}, domain.ErrInvalidAmount
	}
	deadline := input.Deadline.UTC()
	if !deadline.After(s.clock.Now()) {
		return domain.Campaign{}, domain.ErrDeadlineInThePast
	}
	if !deadline.Equal(deadline.Truncate(time.Second)) {
		return domain.Campaign{}, fmt.Errorf("%w: deadline must be a whole number of seconds", domain.ErrInvalidInput)
	}
	asset := domain.NormalizeAsset(input.Asset)
	if domain.IsNullAsset(asset) && s.cfg.NullAssetPolicy == domain.NullAssetReject {
		return domain.Campaign{}, domain.ErrInvalidToken
	}
	request := struct {
		Asset       string
		Goal        *big.Int
		Deadline    int64
		Description []byte
	}{asset, goal, deadline.Unix(), input.Description}

	return runIdempotent(ctx, s, actor, "create_campaign", request, func(ctx context.Context) (domain.Campaign, error) {
		var created domain.Campaign
		err := s.withLock(ctx, registryLockKey, func(ctx context.Context) error {
			return s.tx.WithinTx(ctx, func(ctx context.Context, repos ports.TxRepositories) error {
				id, err := repos.Campaigns.NextID(ctx)
				if err != nil {
					return err
				}
				now := s.clock.Now()
				c := domain.Campaign{
					ID:          id,
					Creator:     creator,
					Asset:       asset,
					Goal:        goal,
					Deadline:    deadline,
					Description: append([]byte(nil), input.Description...),
					Raised:      new(big.Int),
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				if err := repos.Campaigns.Create(ctx, c); err != nil {
					return err
				}
				if err := s.enqueueCampaignCreated(ctx, repos.Outbox, c, actor.RequestID, now); err != nil {
					return err
				}
				created = c
				return nil
			})
		})
		if err != nil {
			return domain.Campaign{}, err
		}
		s.logger.InfoContext(ctx, "campaign created",
			"operation", "create_campaign",
			"outcome", "success",
			"campaign_id", created.ID,
			"creator", created.Creator,
			"asset", created.Asset,
			"goal", created.Goal.String(),
		)
		return created, nil
	})
}

func (s *Service) GetCampaign(ctx context.Context, id uint64) (domain.Campaign, error) {
	if id == 0 {
		return domain.Campaign{}, domain.ErrNotFound
	}
	return s.campaigns.GetByID(ctx, id)
}

func (s *Service) LastCampaignID(ctx context.Context) (uint64, error) {
	return s.campaigns.LastID(ctx)
}

// GetContribution returns the funder's outstanding stake; zero when they never funded
// or were reimbursed.
func (s *Service) GetContribution(ctx context.Context, campaignID uint64, funder string) (*big.Int, error) {
	funder = domain.NormalizePrincipal(funder)
	if strings.TrimSpace(funder) == "" {
		return nil, domain.ErrInvalidInput
	}
	if _, err := s.GetCampaign(ctx, campaignID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return s.contributions.Get(ctx, campaignID, funder)
}
