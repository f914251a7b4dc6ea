package postgres

import (
	"database/sql/driver"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// amountColumn carries a NUMERIC(78,0) as its decimal text so no driver ever routes
// it through a float.
type amountColumn string

func (a amountColumn) Value() (driver.Value, error) {
	if a == "" {
		return "0", nil
	}
	return string(a), nil
}

func (a *amountColumn) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = "0"
	case string:
		*a = amountColumn(v)
	case []byte:
		*a = amountColumn(string(v))
	case int64:
		*a = amountColumn(strconv.FormatInt(v, 10))
	case float64:
		*a = amountColumn(new(big.Float).SetFloat64(v).Text('f', 0))
	default:
		return fmt.Errorf("unsupported amount column type %T", src)
	}
	return nil
}

type registryModel struct {
	ID     int    `gorm:"column:id;primaryKey"`
	LastID uint64 `gorm:"column:last_id"`
}

func (registryModel) TableName() string { return "campaign_registry" }

type campaignModel struct {
	CampaignID   uint64       `gorm:"column:campaign_id;primaryKey;autoIncrement:false"`
	Creator      string       `gorm:"column:creator"`
	Asset        string       `gorm:"column:asset"`
	Goal         amountColumn `gorm:"column:goal"`
	DeadlineUnix int64        `gorm:"column:deadline_unix"`
	Description  []byte       `gorm:"column:description"`
	Raised       amountColumn `gorm:"column:raised"`
	Closed       bool         `gorm:"column:closed"`
	CreatedAt    time.Time    `gorm:"column:created_at"`
	UpdatedAt    time.Time    `gorm:"column:updated_at"`
}

func (campaignModel) TableName() string { return "campaigns" }

type contributionModel struct {
	CampaignID uint64       `gorm:"column:campaign_id;primaryKey;autoIncrement:false"`
	Funder     string       `gorm:"column:funder;primaryKey"`
	Amount     amountColumn `gorm:"column:amount"`
	UpdatedAt  time.Time    `gorm:"column:updated_at"`
}

func (contributionModel) TableName() string { return "contributions" }

type outboxModel struct {
	OutboxID     uuid.UUID  `gorm:"column:outbox_id;type:uuid;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      string     `gorm:"column:payload"`
	RetryCount   int        `gorm:"column:retry_count"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
	LastError    string     `gorm:"column:last_error"`
	LastErrorAt  *time.Time `gorm:"column:last_error_at"`
	DeadLettered *time.Time `gorm:"column:dead_lettered_at"`
}

func (outboxModel) TableName() string { return "chainraise_outbox" }

type idempotencyModel struct {
	IdempotencyKey string    `gorm:"column:idempotency_key;primaryKey"`
	RequestHash    string    `gorm:"column:request_hash"`
	ResponseCode   int       `gorm:"column:response_code"`
	ResponseBody   *string   `gorm:"column:response_body"`
	ExpiresAt      time.Time `gorm:"column:expires_at"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (idempotencyModel) TableName() string { return "idempotency_keys" }

type balanceModel struct {
	Asset     string       `gorm:"column:asset;primaryKey"`
	Account   string       `gorm:"column:account;primaryKey"`
	Amount    amountColumn `gorm:"column:amount"`
	UpdatedAt time.Time    `gorm:"column:updated_at"`
}

func (balanceModel) TableName() string { return "asset_balances" }

type allowanceModel struct {
	Asset     string       `gorm:"column:asset;primaryKey"`
	Owner     string       `gorm:"column:owner;primaryKey"`
	Spender   string       `gorm:"column:spender;primaryKey"`
	Amount    amountColumn `gorm:"column:amount"`
	UpdatedAt time.Time    `gorm:"column:updated_at"`
}

func (allowanceModel) TableName() string { return "asset_allowances" }
