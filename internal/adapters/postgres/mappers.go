package postgres

import (
	"fmt"
	"math/big"
	"time"

	"github.com/viralforge/chainraise/internal/domain"
	"github.com/viralforge/chainraise/internal/ports"
)

func toAmountColumn(v *big.Int) amountColumn {
	return amountColumn(domain.CloneAmount(v).String())
}

func fromAmountColumn(a amountColumn) (*big.Int, error) {
	if a == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(string(a), 10)
	if !ok {
		return nil, fmt.Errorf("corrupt amount column %q", string(a))
	}
	return v, nil
}

func toCampaignModel(c domain.Campaign) campaignModel {
	return campaignModel{
		CampaignID:   c.ID,
		Creator:      c.Creator,
		Asset:        c.Asset,
		Goal:         toAmountColumn(c.Goal),
		DeadlineUnix: c.Deadline.Unix(),
		Description:  c.Description,
		Raised:       toAmountColumn(c.Raised),
		Closed:       c.Closed,
		CreatedAt:    c.CreatedAt.UTC(),
		UpdatedAt:    c.UpdatedAt.UTC(),
	}
}

func fromCampaignModel(m campaignModel) (domain.Campaign, error) {
	goal, err := fromAmountColumn(m.Goal)
	if err != nil {
		return domain.Campaign{}, err
	}
	raised, err := fromAmountColumn(m.Raised)
	if err != nil {
		return domain.Campaign{}, err
	}
	return domain.Campaign{
		ID:          m.CampaignID,
		Creator:     m.Creator,
		Asset:       m.Asset,
		Goal:        goal,
		Deadline:    time.Unix(m.DeadlineUnix, 0).UTC(),
		Description: m.Description,
		Raised:      raised,
		Closed:      m.Closed,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}, nil
}

func fromOutboxModel(m outboxModel) ports.OutboxRecord {
	return ports.OutboxRecord{
		OutboxID:     m.OutboxID,
		EventType:    m.EventType,
		PartitionKey: m.PartitionKey,
		Payload:      []byte(m.Payload),
		RetryCount:   m.RetryCount,
		CreatedAt:    m.CreatedAt.UTC(),
		PublishedAt:  m.PublishedAt,
		LastError:    m.LastError,
		LastErrorAt:  m.LastErrorAt,
		DeadLettered: m.DeadLettered,
	}
}
