package domain

const (
	EventCampaignCreated = "campaign.created"
	EventFundTransfer    = "campaign.fund_transfer"
)

func IsCanonicalEmittedEvent(eventType string) bool {
	switch eventType {
	case EventCampaignCreated, EventFundTransfer:
		return true
	default:
		return false
	}
}

func CanonicalPartitionKeyPath(eventType string) string {
	if IsCanonicalEmittedEvent(eventType) {
		return "data.campaign_id"
	}
	return ""
}
