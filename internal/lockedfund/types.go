// Package lockedfund implements the locked-balance vault: per-user vested, locked,
// waited-unlocked and unlocked buckets funded by admin deposits, plus the bridge that moves
// vested balances into vesting instances and stakes them.
package lockedfund

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Sovryn-Origins/origins/internal/roster"
	"github.com/Sovryn-Origins/origins/internal/vesting"
)

// MaxDurationPeriods bounds the length of a schedule, in four-week periods.
const MaxDurationPeriods uint64 = 37

var (
	ErrInvalidConfig = errors.New("lockedfund: invalid config")
	ErrTokenMismatch = errors.New("lockedfund: token does not match config")
)

// Revert reasons.
const (
	ReasonRegistryInvalid  = "LockedFund: Vesting registry address is invalid."
	ReasonWaitedTSZero     = "LockedFund: Waited TS cannot be zero."
	ReasonInvalidToken     = "LockedFund: Invalid Token Address."
	ReasonAdminListEmpty   = "LockedFund: Admin list cannot be empty."
	ReasonDurationZero     = "LockedFund: Duration cannot be zero."
	ReasonDurationTooLong  = "LockedFund: Duration is too long."
	ReasonCliffAboveDur    = "LockedFund: Cliff has to be <= duration."
	ReasonBasisPoint       = "LockedFund: Basis Point has to be less than 10000."
	ReasonAmountZero       = "LockedFund: Amount needs to be bigger than zero."
	ReasonInvalidAddress   = "LockedFund: Invalid Address."
	ReasonWaitNotPassed    = "LockedFund: Wait Timestamp not yet passed."
	ReasonScheduleNotSet   = "LockedFund: Cliff and/or Duration not set."
	ReasonNoVesting        = "LockedFund: No vesting for user available."
	ReasonVestingInvalid   = "LockedFund: Vesting address invalid."
	ReasonUnknownKind      = "LockedFund: Unknown distribution."
	ReasonUnknownUnlock    = "LockedFund: Unknown unlock type."
)

var AdminMessages = roster.Messages{
	Unauthorized:   "LockedFund: Only admin can call this.",
	InvalidAddress: ReasonInvalidAddress,
	AlreadyMember:  "LockedFund: Address is already admin.",
	NotMember:      "LockedFund: Address is not an admin.",
}

// UnlockMode routes the unlocked share of a vested or locked deposit.
type UnlockMode uint8

const (
	// UnlockNone keeps the whole deposit in the schedule bucket.
	UnlockNone UnlockMode = iota
	UnlockImmediate
	UnlockWaited
)

func (m UnlockMode) String() string {
	switch m {
	case UnlockNone:
		return "none"
	case UnlockImmediate:
		return "immediate"
	case UnlockWaited:
		return "waited"
	default:
		return "unknown"
	}
}

// Kind selects the bucket the non-unlocked share of a deposit lands in.
type Kind uint8

const (
	KindVested Kind = iota + 1
	KindLocked
	KindWaitedUnlocked
)

func (k Kind) String() string {
	switch k {
	case KindVested:
		return "vested"
	case KindLocked:
		return "locked"
	case KindWaitedUnlocked:
		return "waited_unlocked"
	default:
		return "unknown"
	}
}

// Distribution describes how one deposit is split across the buckets. Cliff and duration are
// in four-week periods and ignored for KindWaitedUnlocked.
type Distribution struct {
	Kind            Kind
	CliffPeriods    uint64
	DurationPeriods uint64
	UnlockedBP      uint64
	Unlock          UnlockMode
}

type Config struct {
	// Address is the vault's own account on the token.
	Address         common.Address
	WaitedTS        uint64
	Token           common.Address
	VestingRegistry common.Address
	Admins          []common.Address
}

// ScheduleBalance is one schedule bucket of a user.
type ScheduleBalance struct {
	Key      common.Hash
	Schedule vesting.Schedule
	Amount   *uint256.Int
	// Vesting is the zero address until a vesting instance was created for the schedule.
	Vesting  common.Address
	Registry common.Address
}

// Balances is a snapshot of every bucket of a user.
type Balances struct {
	User            common.Address
	Vested          *uint256.Int
	Locked          *uint256.Int
	WaitedUnlocked  *uint256.Int
	Unlocked        *uint256.Int
	VestedSchedules []ScheduleBalance
	LockedSchedules []ScheduleBalance
}
