package command

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Sovryn-Origins/origins/internal/lockedfund"
	"github.com/Sovryn-Origins/origins/internal/sale"
	"github.com/Sovryn-Origins/origins/internal/units"
)

// Amount is a token amount encoded as a decimal JSON string.
type Amount struct {
	v *uint256.Int
}

func NewAmount(v *uint256.Int) *Amount { return &Amount{v: units.Clone(v)} }

// Int returns a copy of the amount; a nil Amount is zero.
func (a *Amount) Int() *uint256.Int {
	if a == nil {
		return units.Zero()
	}
	return units.Clone(a.v)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(units.String(a.v))
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("amount must be a decimal string: %w", err)
	}
	v, err := units.Parse(s)
	if err != nil {
		return err
	}
	a.v = v
	return nil
}

// AddressArgs carries the single address argument of role, registry and receiver setters.
type AddressArgs struct {
	Address common.Address `json:"address"`
}

type TimestampArgs struct {
	Timestamp uint64 `json:"timestamp"`
}

// DestinationArgs names where a withdrawal is paid; the zero address pays the caller.
type DestinationArgs struct {
	Destination common.Address `json:"destination"`
}

type UserArgs struct {
	User common.Address `json:"user"`
}

type TokenArgs struct {
	Token  common.Address `json:"token"`
	To     common.Address `json:"to"`
	Amount *Amount        `json:"amount"`
}

type DepositArgs struct {
	User            common.Address        `json:"user"`
	Amount          *Amount               `json:"amount"`
	CliffPeriods    uint64                `json:"cliffPeriods,omitempty"`
	DurationPeriods uint64                `json:"durationPeriods,omitempty"`
	UnlockedBP      uint64                `json:"unlockedBP"`
	UnlockMode      lockedfund.UnlockMode `json:"unlockMode,omitempty"`
}

type CreateTierArgs struct {
	MaxAmount       *Amount           `json:"maxAmount"`
	RemainingTokens *Amount           `json:"remainingTokens"`
	SaleStartTS     uint64            `json:"saleStartTS"`
	SaleEnd         uint64            `json:"saleEnd"`
	UnlockedBP      uint64            `json:"unlockedBP"`
	CliffPeriods    uint64            `json:"cliffPeriods"`
	DurationPeriods uint64            `json:"durationPeriods"`
	DepositRate     *Amount           `json:"depositRate"`
	DepositType     sale.DepositType  `json:"depositType"`
	DepositToken    common.Address    `json:"depositToken"`
	Verification    sale.Verification `json:"verification"`
	SaleEndMode     sale.SaleEndMode  `json:"saleEndMode"`
	TransferType    sale.TransferType `json:"transferType"`
}

func (a CreateTierArgs) NewTier() sale.NewTier {
	return sale.NewTier{
		MaxAmount:       a.MaxAmount.Int(),
		RemainingTokens: a.RemainingTokens.Int(),
		SaleStartTS:     a.SaleStartTS,
		SaleEnd:         a.SaleEnd,
		UnlockedBP:      a.UnlockedBP,
		CliffPeriods:    a.CliffPeriods,
		DurationPeriods: a.DurationPeriods,
		DepositRate:     a.DepositRate.Int(),
		DepositType:     a.DepositType,
		DepositToken:    a.DepositToken,
		Verification:    a.Verification,
		SaleEndMode:     a.SaleEndMode,
		TransferType:    a.TransferType,
	}
}

type TierArgs struct {
	TierID uint64 `json:"tierId"`
}

type TierVerificationArgs struct {
	TierID       uint64            `json:"tierId"`
	Verification sale.Verification `json:"verification"`
}

type TierDepositArgs struct {
	TierID       uint64           `json:"tierId"`
	DepositRate  *Amount          `json:"depositRate"`
	DepositToken common.Address   `json:"depositToken"`
	DepositType  sale.DepositType `json:"depositType"`
}

type TierTokenLimitArgs struct {
	TierID    uint64  `json:"tierId"`
	MinAmount *Amount `json:"minAmount"`
	MaxAmount *Amount `json:"maxAmount"`
}

type TierTokenAmountArgs struct {
	TierID          uint64  `json:"tierId"`
	RemainingTokens *Amount `json:"remainingTokens"`
}

type TierVestOrLockArgs struct {
	TierID                  uint64            `json:"tierId"`
	CliffPeriods            uint64            `json:"cliffPeriods"`
	DurationPeriods         uint64            `json:"durationPeriods"`
	UnlockedTokenWithdrawTS uint64            `json:"unlockedTokenWithdrawTS"`
	UnlockedBP              uint64            `json:"unlockedBP"`
	TransferType            sale.TransferType `json:"transferType"`
}

type TierTimeArgs struct {
	TierID      uint64           `json:"tierId"`
	SaleStartTS uint64           `json:"saleStartTS"`
	SaleEnd     uint64           `json:"saleEnd"`
	SaleEndMode sale.SaleEndMode `json:"saleEndMode"`
}

type TierSaleTypeArgs struct {
	TierID   uint64        `json:"tierId"`
	SaleType sale.SaleType `json:"saleType"`
}

type TierStakeConditionArgs struct {
	TierID   uint64  `json:"tierId"`
	MinStake *Amount `json:"minStake"`
	MaxStake *Amount `json:"maxStake"`
}

// VerificationArgs serves the four verification kinds: addressVerification reads User and
// TierID, the multi-entry kinds read Users and/or TierIDs.
type VerificationArgs struct {
	User    common.Address   `json:"user,omitempty"`
	Users   []common.Address `json:"users,omitempty"`
	TierID  uint64           `json:"tierId,omitempty"`
	TierIDs []uint64         `json:"tierIds,omitempty"`
}

// BuyArgs selects the tier. Amount is the deposit of token tiers; native tiers read the
// envelope Value.
type BuyArgs struct {
	TierID  uint64  `json:"tierId"`
	Amount  *Amount `json:"amount,omitempty"`
	StakeID uint64  `json:"stakeId,omitempty"`
}

type ClaimArgs struct {
	TierID uint64         `json:"tierId"`
	User   common.Address `json:"user"`
}
