package contracts

import (
	"encoding/json"
	"time"
)

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    string          `json:"schema_version"`
	Data             json.RawMessage `json:"data"`
}

// CampaignCreatedPayload mirrors CampaignCreated(creator, asset, campaignId, goal,
// deadline, description). Description is base64 in JSON.
type CampaignCreatedPayload struct {
	Creator     string `json:"creator"`
	Asset       string `json:"asset"`
	CampaignID  uint64 `json:"campaign_id"`
	Goal        string `json:"goal"`
	Deadline    int64  `json:"deadline"`
	Description []byte `json:"description"`
}

type FundTransferPayload struct {
	CampaignID uint64 `json:"campaign_id"`
	Account    string `json:"account"`
	Amount     string `json:"amount"`
	IsDeposit  bool   `json:"is_deposit"`
}
