package contracts

import "time"

type SuccessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ErrorPayload struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

type ErrorResponse struct {
	Status string       `json:"status"`
	Error  ErrorPayload `json:"error"`
}

type CreateCampaignRequest struct {
	Asset       string    `json:"asset"`
	Goal        string    `json:"goal"`
	Deadline    time.Time `json:"deadline"`
	Description []byte    `json:"description"`
}

type FundRequest struct {
	Amount string `json:"amount"`
}

type CampaignResponse struct {
	CampaignID  uint64    `json:"campaign_id"`
	Creator     string    `json:"creator"`
	Asset       string    `json:"asset"`
	Native      bool      `json:"native"`
	Goal        string    `json:"goal"`
	Raised      string    `json:"raised"`
	Deadline    time.Time `json:"deadline"`
	Description []byte    `json:"description"`
	Closed      bool      `json:"closed"`
}

type TransferResponse struct {
	CampaignID uint64 `json:"campaign_id"`
	Account    string `json:"account"`
	Amount     string `json:"amount"`
	IsDeposit  bool   `json:"is_deposit"`
}

type LastCampaignIDResponse struct {
	LastCampaignID uint64 `json:"last_campaign_id"`
}

type ContributionResponse struct {
	CampaignID uint64 `json:"campaign_id"`
	Funder     string `json:"funder"`
	Amount     string `json:"amount"`
}

type EventLogEntry struct {
	Sequence uint64        `json:"sequence"`
	Event    EventEnvelope `json:"event"`
}

type EventLogResponse struct {
	Events []EventLogEntry `json:"events"`
	Next   uint64          `json:"next"`
}

// SandboxAmountRequest accepts either base units ("amount") or a decimal value in
// whole token units ("units", scaled by the asset's decimals).
type SandboxAmountRequest struct {
	Amount  string `json:"amount,omitempty"`
	Units   string `json:"units,omitempty"`
	Spender string `json:"spender,omitempty"`
}

type SandboxBalanceResponse struct {
	Asset     string `json:"asset"`
	Account   string `json:"account"`
	Balance   string `json:"balance"`
	Formatted string `json:"formatted"`
	Allowance string `json:"allowance_to_escrow"`
}
