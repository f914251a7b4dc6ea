package application

import (
	"log/slog"
	"math/big"
	"time"

	"github.com/viralforge/chainraise/internal/domain"
	"github.com/viralforge/chainraise/internal/ports"
)

type Config struct {
	ServiceName     string
	NullAssetPolicy domain.NullAssetPolicy
	IdempotencyTTL  time.Duration
}

// Actor is the resolved calling principal. SubjectID is compared against stored
// creator and funder identities.
type Actor struct {
	SubjectID      string
	Role           string
	RequestID      string
	IdempotencyKey string
}

type CreateCampaignInput struct {
	Asset       string
	Goal        *big.Int
	Deadline    time.Time
	Description []byte
}

type FundInput struct {
	CampaignID uint64
	Amount     *big.Int
}

type Service struct {
	cfg           Config
	campaigns     ports.CampaignRepository
	contributions ports.ContributionRepository
	tx            ports.Transactor
	idempotency   ports.IdempotencyRepository
	gateway       ports.AssetGateway
	locker        ports.Locker
	clock         ports.Clock
	logger        *slog.Logger
}

type Dependencies struct {
	Config        Config
	Campaigns     ports.CampaignRepository
	Contributions ports.ContributionRepository
	Transactor    ports.Transactor
	Idempotency   ports.IdempotencyRepository
	Gateway       ports.AssetGateway
	Locker        ports.Locker
	Clock         ports.Clock
	Logger        *slog.Logger
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "chainraise-escrow-service"
	}
	if !cfg.NullAssetPolicy.Valid() {
		cfg.NullAssetPolicy = domain.NullAssetReject
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	clock := deps.Clock
	if clock == nil {
		clock = ports.ClockFunc(func() time.Time { return time.Now().UTC() })
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:           cfg,
		campaigns:     deps.Campaigns,
		contributions: deps.Contributions,
		tx:            deps.Transactor,
		idempotency:   deps.Idempotency,
		gateway:       deps.Gateway,
		locker:        deps.Locker,
		clock:         clock,
		logger:        logger.With("module", "application", "layer", "service"),
	}
}

func (s *Service) NullAssetPolicy() domain.NullAssetPolicy { return s.cfg.NullAssetPolicy }
