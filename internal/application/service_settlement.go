package application

import (
	"context"
	"math/big"

	"github.com/viralforge/chainraise/internal/domain"
	"github.com/viralforge/chainraise/internal/ports"
)

// Fund pulls amount from the caller into escrow and credits their stake. The pull
// happens before the ledger is credited; a failed pull leaves accounting untouched
// and its error is returned as the gateway produced it.
func (s *Service) Fund(ctx context.Context, actor Actor, input FundInput) (out domain.Transfer, err error) {
	ctx, end := traceStart(ctx, "settlement.fund")
	defer func() { s.observe(ctx, "fund", err); end(err) }()

	caller, err := requireCaller(actor)
	if err != nil {
		return domain.Transfer{}, err
	}
	if input.CampaignID == 0 {
		return domain.Transfer{}, domain.ErrInvalidCampaign
	}
	amount := domain.CloneAmount(input.Amount)
	request := struct {
		CampaignID uint64
		Amount     *big.Int
	}{input.CampaignID, amount}

	return runIdempotent(ctx, s, actor, "fund", request, func(ctx context.Context) (domain.Transfer, error) {
		var transfer domain.Transfer
		err := s.withLock(ctx, campaignLockKey(input.CampaignID), func(ctx context.Context) error {
			var (
				pulled bool
				asset  string
			)
			err := s.tx.WithinTx(ctx, func(ctx context.Context, repos ports.TxRepositories) error {
				c, err := loadCampaign(ctx, repos.Campaigns, input.CampaignID)
				if err != nil {
					return err
				}
				now := s.clock.Now()
				if !now.Before(c.Deadline) {
					return &domain.DeadlineReachedError{Now: now}
				}
				if c.Closed {
					return domain.ErrAlreadyClosed
				}
				if amount.Sign() <= 0 {
					return domain.ErrInvalidAmount
				}

				asset = c.Asset
				if err := s.gateway.Pull(ctx, c.Asset, caller, amount); err != nil {
					return err
				}
				pulled = true

				stake, err := repos.Contributions.Get(ctx, c.ID, caller)
				if err != nil {
					return err
				}
				stake = new(big.Int).Add(stake, amount)
				c.Raised = new(big.Int).Add(c.Raised, amount)
				c.UpdatedAt = now
				if err := repos.Campaigns.Update(ctx, c); err != nil {
					return err
				}
				if err := repos.Contributions.Set(ctx, c.ID, caller, stake); err != nil {
					return err
				}
				transfer = domain.Transfer{CampaignID: c.ID, Account: caller, Amount: domain.CloneAmount(amount), IsDeposit: true}
				return s.enqueueFundTransfer(ctx, repos.Outbox, transfer, actor.RequestID, now)
			})
			if err != nil && pulled {
				s.compensatePull(ctx, input.CampaignID, asset, caller, amount, err)
			}
			return err
		})
		if err != nil {
			return domain.Transfer{}, err
		}
		return transfer, nil
	})
}

// Withdraw releases the whole raised total to the creator once the goal is met.
// closed is staged before the push; the unit of work only commits if the push succeeds.
func (s *Service) Withdraw(ctx context.Context, actor Actor, campaignID uint64) (out domain.Transfer, err error) {
	ctx, end := traceStart(ctx, "settlement.withdraw")
	defer func() { s.observe(ctx, "withdraw", err); end(err) }()

	caller, err := requireCaller(actor)
	if err != nil {
		return domain.Transfer{}, err
	}
	if campaignID == 0 {
		return domain.Transfer{}, domain.ErrInvalidCampaign
	}
	request := struct{ CampaignID uint64 }{campaignID}

	return runIdempotent(ctx, s, actor, "withdraw", request, func(ctx context.Context) (domain.Transfer, error) {
		var transfer domain.Transfer
		err := s.withLock(ctx, campaignLockKey(campaignID), func(ctx context.Context) error {
			pushed := false
			err := s.tx.WithinTx(ctx, func(ctx context.Context, repos ports.TxRepositories) error {
				c, err := loadCampaign(ctx, repos.Campaigns, campaignID)
				if err != nil {
					return err
				}
				if caller != c.Creator {
					return &domain.InvalidCallerError{Expected: c.Creator}
				}
				if c.Closed {
					return domain.ErrAlreadyClosed
				}
				if !c.GoalReached() {
					return &domain.GoalNotReachedError{Raised: domain.CloneAmount(c.Raised)}
				}

				now := s.clock.Now()
				amount := domain.CloneAmount(c.Raised)
				c.Closed = true
				c.UpdatedAt = now
				if err := repos.Campaigns.Update(ctx, c); err != nil {
					return err
				}
				transfer = domain.Transfer{CampaignID: c.ID, Account: c.Creator, Amount: amount, IsDeposit: false}
				if err := s.enqueueFundTransfer(ctx, repos.Outbox, transfer, actor.RequestID, now); err != nil {
					return err
				}
				if err := s.gateway.Push(ctx, c.Asset, c.Creator, amount); err != nil {
					return err
				}
				pushed = true
				return nil
			})
			if err != nil && pushed {
				s.reportInDoubt(ctx, "withdraw", transfer, err)
			}
			return err
		})
		if err != nil {
			return domain.Transfer{}, err
		}
		s.logger.InfoContext(ctx, "campaign withdrawn",
			"operation", "withdraw",
			"outcome", "success",
			"campaign_id", transfer.CampaignID,
			"amount", transfer.Amount.String(),
		)
		return transfer, nil
	})
}

// Reimburse returns the caller's whole outstanding stake while the campaign is open.
// The stake is zeroed and raised decremented before the push.
func (s *Service) Reimburse(ctx context.Context, actor Actor, campaignID uint64) (out domain.Transfer, err error) {
	ctx, end := traceStart(ctx, "settlement.reimburse")
	defer func() { s.observe(ctx, "reimburse", err); end(err) }()

	caller, err := requireCaller(actor)
	if err != nil {
		return domain.Transfer{}, err
	}
	if campaignID == 0 {
		return domain.Transfer{}, domain.ErrInvalidCampaign
	}
	request := struct{ CampaignID uint64 }{campaignID}

	return runIdempotent(ctx, s, actor, "reimburse", request, func(ctx context.Context) (domain.Transfer, error) {
		var transfer domain.Transfer
		err := s.withLock(ctx, campaignLockKey(campaignID), func(ctx context.Context) error {
			pushed := false
			err := s.tx.WithinTx(ctx, func(ctx context.Context, repos ports.TxRepositories) error {
				c, err := loadCampaign(ctx, repos.Campaigns, campaignID)
				if err != nil {
					return err
				}
				if c.Closed {
					return domain.ErrAlreadyClosed
				}
				stake, err := repos.Contributions.Get(ctx, c.ID, caller)
				if err != nil {
					return err
				}
				if domain.IsZeroAmount(stake) {
					return domain.ErrNotFunder
				}

				now := s.clock.Now()
				if err := repos.Contributions.Set(ctx, c.ID, caller, new(big.Int)); err != nil {
					return err
				}
				c.Raised = new(big.Int).Sub(c.Raised, stake)
				c.UpdatedAt = now
				if err := repos.Campaigns.Update(ctx, c); err != nil {
					return err
				}
				transfer = domain.Transfer{CampaignID: c.ID, Account: caller, Amount: domain.CloneAmount(stake), IsDeposit: false}
				if err := s.enqueueFundTransfer(ctx, repos.Outbox, transfer, actor.RequestID, now); err != nil {
					return err
				}
				if err := s.gateway.Push(ctx, c.Asset, caller, stake); err != nil {
					return err
				}
				pushed = true
				return nil
			})
			if err != nil && pushed {
				s.reportInDoubt(ctx, "reimburse", transfer, err)
			}
			return err
		})
		if err != nil {
			return domain.Transfer{}, err
		}
		return transfer, nil
	})
}

// compensatePull returns value pulled by a fund call whose state change could not be
// committed. Still runs under the campaign lock.
func (s *Service) compensatePull(ctx context.Context, campaignID uint64, asset, caller string, amount *big.Int, cause error) {
	if err := s.gateway.Push(context.WithoutCancel(ctx), asset, caller, amount); err != nil {
		s.logger.ErrorContext(ctx, "fund compensation failed",
			"operation", "fund",
			"outcome", "in_doubt",
			"campaign_id", campaignID,
			"account", caller,
			"amount", amount.String(),
			"cause", cause,
			"error", err,
		)
		return
	}
	s.logger.WarnContext(ctx, "fund rolled back after pull",
		"operation", "fund",
		"outcome", "compensated",
		"campaign_id", campaignID,
		"account", caller,
		"amount", amount.String(),
		"cause", cause,
	)
}

// reportInDoubt records a push that went out while its state change failed to commit.
// Such transfers need manual reconciliation; they are never retried automatically.
func (s *Service) reportInDoubt(ctx context.Context, operation string, t domain.Transfer, err error) {
	s.logger.ErrorContext(ctx, "transfer issued but state commit failed",
		"operation", operation,
		"outcome", "in_doubt",
		"campaign_id", t.CampaignID,
		"account", t.Account,
		"amount", t.Amount.String(),
		"error", err,
	)
}
