package application

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/chainraise/internal/contracts"
	"github.com/viralforge/chainraise/internal/domain"
	"github.com/viralforge/chainraise/internal/ports"
)

// enqueueEvent writes the envelope through the unit of work's outbox so an event is
// recorded if and only if the state change that produced it commits.
func (s *Service) enqueueEvent(ctx context.Context, outbox ports.OutboxRepository, eventType, traceID string, data any, campaignID uint64, now time.Time) error {
	if outbox == nil {
		return nil
	}
	if !domain.IsCanonicalEmittedEvent(eventType) {
		return domain.ErrUnsupportedEventType
	}
	b, err := json.Marshal(data)
	if err != nil {
		return domain.ErrInvalidInput
	}
	if strings.TrimSpace(traceID) == "" {
		traceID = uuid.NewString()
	}
	partitionKey := strconv.FormatUint(campaignID, 10)
	env := contracts.EventEnvelope{
		EventID:          uuid.NewString(),
		EventType:        eventType,
		OccurredAt:       now,
		PartitionKeyPath: domain.CanonicalPartitionKeyPath(eventType),
		PartitionKey:     partitionKey,
		SourceService:    s.cfg.ServiceName,
		TraceID:          traceID,
		SchemaVersion:    "v1",
		Data:             b,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return outbox.Enqueue(ctx, ports.OutboxRecord{
		OutboxID:     uuid.MustParse(env.EventID),
		EventType:    eventType,
		PartitionKey: partitionKey,
		Payload:      payload,
		CreatedAt:    now,
	})
}

func (s *Service) enqueueCampaignCreated(ctx context.Context, outbox ports.OutboxRepository, c domain.Campaign, traceID string, now time.Time) error {
	return s.enqueueEvent(ctx, outbox, domain.EventCampaignCreated, traceID, contracts.CampaignCreatedPayload{
		Creator:     c.Creator,
		Asset:       c.Asset,
		CampaignID:  c.ID,
		Goal:        c.Goal.String(),
		Deadline:    c.Deadline.Unix(),
		Description: c.Description,
	}, c.ID, now)
}

func (s *Service) enqueueFundTransfer(ctx context.Context, outbox ports.OutboxRepository, t domain.Transfer, traceID string, now time.Time) error {
	return s.enqueueEvent(ctx, outbox, domain.EventFundTransfer, traceID, contracts.FundTransferPayload{
		CampaignID: t.CampaignID,
		Account:    t.Account,
		Amount:     t.Amount.String(),
		IsDeposit:  t.IsDeposit,
	}, t.CampaignID, now)
}
