// Package vesting defines the vesting-registry and staking collaborators of the ledger,
// plus in-memory implementations.
package vesting

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/Sovryn-Origins/origins/internal/units"
)

// Schedule is a (cliff, duration) pair in seconds.
type Schedule struct {
	Cliff    uint64
	Duration uint64
}

// FromPeriods converts four-week periods into a schedule.
func FromPeriods(cliffPeriods, durationPeriods uint64) (Schedule, error) {
	cliff, err := units.PeriodsToSeconds(cliffPeriods)
	if err != nil {
		return Schedule{}, err
	}
	duration, err := units.PeriodsToSeconds(durationPeriods)
	if err != nil {
		return Schedule{}, err
	}
	return Schedule{Cliff: cliff, Duration: duration}, nil
}

func (s Schedule) CliffPeriods() uint64 { return s.Cliff / units.FourWeeks }

func (s Schedule) DurationPeriods() uint64 { return s.Duration / units.FourWeeks }

var scheduleArgs = func() abi.Arguments {
	t, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: t}, {Type: t}}
}()

// Key is keccak256(abi.encode(cliff, duration)), the identifier balances are tracked under.
func (s Schedule) Key() common.Hash {
	packed, err := scheduleArgs.Pack(new(big.Int).SetUint64(s.Cliff), new(big.Int).SetUint64(s.Duration))
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(packed)
}

// Registry creates per-user vesting instances and stakes through them.
type Registry interface {
	Address() common.Address
	// GetVesting returns the zero address when the user has no instance for s.
	GetVesting(ctx context.Context, user common.Address, s Schedule) (common.Address, error)
	CreateVesting(ctx context.Context, caller, user common.Address, s Schedule) (common.Address, error)
	// StakeTokens stakes amount already held by the vesting instance.
	StakeTokens(ctx context.Context, caller, vesting common.Address, amount *uint256.Int) error
}

// Directory resolves registries by address, including ones that are no longer current.
type Directory interface {
	Registry(addr common.Address) (Registry, bool)
}

// Staking locks tokens on behalf of an owner.
type Staking interface {
	Address() common.Address
	Stake(ctx context.Context, payer, owner common.Address, amount *uint256.Int, until uint64) error
	// StakeOf returns the owner's stake at lock date stakeID, or the total when stakeID is 0.
	StakeOf(owner common.Address, stakeID uint64) *uint256.Int
}
