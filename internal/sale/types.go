// Package sale implements the tiered token sale: owner-defined tiers with independent supply,
// per-address caps, time windows and verification rules, settling every purchase into the
// locked-fund ledger.
package sale

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Sovryn-Origins/origins/internal/events"
	"github.com/Sovryn-Origins/origins/internal/lockedfund"
	"github.com/Sovryn-Origins/origins/internal/units"
)

var ErrInvalidConfig = errors.New("sale: invalid config")

// Revert reasons.
const (
	ReasonInvalidTier          = "OriginsBase: Invalid Tier."
	ReasonSaleNotAllowed       = "OriginsBase: Sale not allowed."
	ReasonNotStarted           = "OriginsBase: Sale has not started yet."
	ReasonSaleEnded            = "OriginsBase: Sale ended."
	ReasonNoOneAllowed         = "OriginsBase: No one is allowed for sale."
	ReasonNotApproved          = "OriginsBase: User not approved for sale."
	ReasonStakeCondition       = "OriginsBase: User does not meet the stake condition."
	ReasonTransferTypeUnset    = "OriginsBase: Transfer Type not set by owner."
	ReasonAmountZero           = "OriginsBase: Amount cannot be zero."
	ReasonBelowMinimum         = "OriginsBase: Deposit is less than minimum allowed."
	ReasonMaximumBought        = "OriginsBase: User already bought maximum allowed."
	ReasonValueForTokenDeposit = "OriginsBase: Native value not accepted for token deposits."
	ReasonLockedFundUnset      = "OriginsBase: Locked Fund is not set."

	ReasonDepositAddressZero = "OriginsBase: Deposit Address cannot be zero."
	ReasonLockedFundZero     = "OriginsBase: Locked Fund Address cannot be zero."
	ReasonTokenZero          = "OriginsBase: Token Address cannot be zero."
	ReasonRateZero           = "OriginsBase: Deposit Rate cannot be zero."
	ReasonDepositTokenZero   = "OriginsBase: Deposit Token Address cannot be zero."
	ReasonTermsLocked        = "OriginsBase: Tier terms cannot change while deposits are escrowed."
	ReasonPooledUntilSupply  = "OriginsBase: Pooled sale needs a sale end time."
	ReasonMinAboveMax        = "OriginsBase: Min Amount cannot be higher than Max Amount."
	ReasonRemainingZero      = "OriginsBase: Total token to sell should be higher than zero."
	ReasonMaxAboveSupply     = "OriginsBase: Max Amount to buy should not be higher than token availability."
	ReasonCliffAboveDuration = "OriginsBase: Cliff has to be <= duration."
	ReasonBasisPoint         = "OriginsBase: The basis point cannot be higher than 10K."
	ReasonStartAfterEnd      = "OriginsBase: The sale start TS cannot be after sale end TS."
	ReasonEndInPast          = "OriginsBase: The sale end duration cannot be past already."
	ReasonStakeRange         = "OriginsBase: Min Stake cannot be higher than Max Stake."

	ReasonVerifyZero     = "OriginsBase: Address to be verified cannot be zero."
	ReasonLengthMismatch = "OriginsBase: Address and Tier Array length mismatch."

	ReasonCannotWithdrawUnsold = "OriginsBase: Cannot withdraw unsold tokens right now."
	ReasonCannotClose          = "OriginsBase: Cannot close this tier right now."
	ReasonNotPooled            = "OriginsBase: Sale type is not Pooled."
	ReasonNotClosed            = "OriginsBase: Sale has not been closed yet."
	ReasonNothingToClaim       = "OriginsBase: Nothing to claim for this user."
	ReasonAlreadyClaimed       = "OriginsBase: Already claimed."
)

type DepositType uint8

const (
	DepositNative DepositType = iota
	DepositToken
)

type Verification uint8

const (
	VerifyNone Verification = iota
	VerifyEveryone
	VerifyByAddress
	VerifyByStake
)

type SaleEndMode uint8

const (
	EndNone SaleEndMode = iota
	EndUntilSupply
	EndDuration
	EndTimestamp
)

type TransferType uint8

const (
	TransferNone TransferType = iota
	TransferUnlocked
	TransferWaitedUnlock
	TransferVested
	TransferLocked
)

type SaleType uint8

const (
	SaleUnset SaleType = iota
	SaleFCFS
	SalePooled
)

// Tier is one independently configured sale round. Min/MaxAmount are in deposit units;
// RemainingTokens is in sale-token units.
type Tier struct {
	ID                      uint64
	MinAmount               *uint256.Int
	MaxAmount               *uint256.Int
	RemainingTokens         *uint256.Int
	SaleStartTS             uint64
	SaleEnd                 uint64
	SaleEndMode             SaleEndMode
	UnlockedTokenWithdrawTS uint64
	UnlockedBP              uint64
	CliffPeriods            uint64
	DurationPeriods         uint64
	DepositRate             *uint256.Int
	DepositToken            common.Address
	DepositType             DepositType
	Verification            Verification
	TransferType            TransferType
	SaleType                SaleType
	MinStake                *uint256.Int
	MaxStake                *uint256.Int
	Closed                  bool
}

func (t Tier) clone() Tier {
	t.MinAmount = units.Clone(t.MinAmount)
	t.MaxAmount = units.Clone(t.MaxAmount)
	t.RemainingTokens = units.Clone(t.RemainingTokens)
	t.DepositRate = units.Clone(t.DepositRate)
	t.MinStake = units.Clone(t.MinStake)
	t.MaxStake = units.Clone(t.MaxStake)
	return t
}

// NewTier holds the createTier arguments. DepositToken is only read for DepositToken tiers.
type NewTier struct {
	MaxAmount       *uint256.Int
	RemainingTokens *uint256.Int
	SaleStartTS     uint64
	SaleEnd         uint64
	UnlockedBP      uint64
	CliffPeriods    uint64
	DurationPeriods uint64
	DepositRate     *uint256.Int
	DepositType     DepositType
	DepositToken    common.Address
	Verification    Verification
	SaleEndMode     SaleEndMode
	TransferType    TransferType
}

// TierPatch is a partial tier update. Nil groups are left unchanged.
type TierPatch struct {
	Verification   *Verification
	Deposit        *DepositTerms
	Limits         *Limits
	TokenAmount    *uint256.Int
	VestOrLock     *VestOrLock
	Time           *Window
	SaleType       *SaleType
	StakeCondition *StakeCondition
}

type DepositTerms struct {
	Rate  *uint256.Int
	Token common.Address
	Type  DepositType
}

type Limits struct {
	Min *uint256.Int
	Max *uint256.Int
}

type VestOrLock struct {
	CliffPeriods            uint64
	DurationPeriods         uint64
	UnlockedTokenWithdrawTS uint64
	UnlockedBP              uint64
	TransferType            TransferType
}

type Window struct {
	Start uint64
	End   uint64
	Mode  SaleEndMode
}

// StakeCondition bounds the stake a buyer must hold for VerifyByStake. A zero Max is unbounded.
type StakeCondition struct {
	Min *uint256.Int
	Max *uint256.Int
}

// BuyInput is one purchase. Value is native currency attached to the call; Amount is the
// deposit for token-denominated tiers. StakeID selects the stake position read by
// VerifyByStake (0 reads the total stake).
type BuyInput struct {
	TierID  uint64
	Amount  *uint256.Int
	Value   *uint256.Int
	StakeID uint64
}

// Receipt reports the outcome of a purchase or claim.
type Receipt struct {
	Accepted *uint256.Int
	Refunded *uint256.Int
	Tokens   *uint256.Int
}

// Ledger is the locked-fund vault purchases settle into.
type Ledger interface {
	Address() common.Address
	DepositVested(ctx context.Context, sink events.Sink, caller, user common.Address, amount *uint256.Int, cliffPeriods, durationPeriods, unlockedBP uint64, mode lockedfund.UnlockMode) error
	DepositLocked(ctx context.Context, sink events.Sink, caller, user common.Address, amount *uint256.Int, cliffPeriods, durationPeriods, unlockedBP uint64, mode lockedfund.UnlockMode) error
	DepositWaitedUnlocked(ctx context.Context, sink events.Sink, caller, user common.Address, amount *uint256.Int, unlockedBP uint64) error
}

// Ledgers resolves a ledger by address.
type Ledgers interface {
	Ledger(addr common.Address) (Ledger, bool)
}

// StakeReader reports stakes for VerifyByStake.
type StakeReader interface {
	StakeOf(owner common.Address, stakeID uint64) *uint256.Int
}

type Config struct {
	// Address is the sale's own account: it escrows tier supply and deposits.
	Address        common.Address
	Owners         []common.Address
	Token          common.Address
	DepositAddress common.Address
	LockedFund     common.Address
}

var _ Ledger = (*lockedfund.Vault)(nil)

// LedgerMap resolves ledgers from a fixed set.
type LedgerMap map[common.Address]Ledger

func (m LedgerMap) Ledger(addr common.Address) (Ledger, bool) {
	l, ok := m[addr]
	return l, ok
}
