package domain

import (
	"math/big"
	"strings"
	"time"
)

// NullAsset is the zero address. Depending on the deployment's NullAssetPolicy it is
// either rejected or treated as the native currency.
const NullAsset = "0x0000000000000000000000000000000000000000"

type NullAssetPolicy string

const (
	NullAssetReject NullAssetPolicy = "reject_null"
	NullAssetNative NullAssetPolicy = "native"
)

func (p NullAssetPolicy) Valid() bool {
	return p == NullAssetReject || p == NullAssetNative
}

type Campaign struct {
	ID          uint64
	Creator     string
	Asset       string
	Goal        *big.Int
	Deadline    time.Time
	Description []byte
	Raised      *big.Int
	Closed      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (c Campaign) IsNative() bool { return IsNullAsset(c.Asset) }

func (c Campaign) GoalReached() bool {
	return CloneAmount(c.Raised).Cmp(CloneAmount(c.Goal)) >= 0
}

// Clone deep-copies the amounts and description so stored records never alias.
func (c Campaign) Clone() Campaign {
	out := c
	out.Goal = CloneAmount(c.Goal)
	out.Raised = CloneAmount(c.Raised)
	if c.Description != nil {
		out.Description = append([]byte(nil), c.Description...)
	}
	return out
}

// Transfer is the outcome of a settlement operation and the body of a FundTransfer event.
type Transfer struct {
	CampaignID uint64
	Account    string
	Amount     *big.Int
	IsDeposit  bool
}

func IsNullAsset(asset string) bool {
	asset = strings.TrimSpace(asset)
	return asset == "" || strings.EqualFold(asset, NullAsset)
}

// NormalizeAsset maps every spelling of the null sentinel to NullAsset.
func NormalizeAsset(asset string) string {
	if IsNullAsset(asset) {
		return NullAsset
	}
	return NormalizePrincipal(asset)
}

// NormalizePrincipal makes principal comparison case-insensitive, like hex addresses.
func NormalizePrincipal(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}
