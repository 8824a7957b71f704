package lockedfund

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Sovryn-Origins/origins/internal/abort"
	"github.com/Sovryn-Origins/origins/internal/events"
	"github.com/Sovryn-Origins/origins/internal/units"
	"github.com/Sovryn-Origins/origins/internal/vesting"
)

// effect is a collaborator call planned by an accounting step. Balances are debited while
// planning, so effects only ever run against already-updated state.
type effect interface {
	run(ctx context.Context, v *Vault) error
}

type payout struct {
	to     common.Address
	amount *uint256.Int
}

func (p payout) run(ctx context.Context, v *Vault) error {
	if units.IsZero(p.amount) {
		return nil
	}
	return v.token.Transfer(ctx, v.addr, p.to, p.amount)
}

type stake struct {
	vesting  common.Address
	registry vesting.Registry
	amount   *uint256.Int
}

func (s stake) run(ctx context.Context, v *Vault) error {
	if err := v.token.Transfer(ctx, v.addr, s.vesting, s.amount); err != nil {
		return err
	}
	return s.registry.StakeTokens(ctx, v.addr, s.vesting, s.amount)
}

// WithdrawWaitedUnlockedBalance sends the caller's waited-unlocked bucket to dest, or to the
// caller when dest is the zero address.
func (v *Vault) WithdrawWaitedUnlockedBalance(ctx context.Context, sink events.Sink, caller, dest common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if dest == (common.Address{}) {
		dest = caller
	}
	return v.withdrawWaited(ctx, sink, caller, caller, dest)
}

// WithdrawUnlockedBalance sends the caller's unlocked bucket to dest (or the caller). It has
// no time gate.
func (v *Vault) WithdrawUnlockedBalance(ctx context.Context, sink events.Sink, caller, dest common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if dest == (common.Address{}) {
		dest = caller
	}
	amount := units.Clone(v.st.unlocked[caller])
	v.st.unlocked[caller] = units.Zero()
	if err := (payout{to: dest, amount: amount}).run(ctx, v); err != nil {
		return err
	}
	sink.Emit(events.New(v.addr, "WithdrawnUnlockedBalance",
		events.IndexedAddress("_initiator", caller),
		events.IndexedAddress("_userAddress", dest),
		events.Amount("_amount", amount)))
	return nil
}

func (v *Vault) withdrawWaited(ctx context.Context, sink events.Sink, initiator, user, dest common.Address) error {
	if uint64(v.now().Unix()) < v.st.waitedTS {
		return abort.Temporal(ReasonWaitNotPassed)
	}
	amount := units.Clone(v.st.waited[user])
	v.st.waited[user] = units.Zero()
	if err := (payout{to: dest, amount: amount}).run(ctx, v); err != nil {
		return err
	}
	sink.Emit(events.New(v.addr, "Withdrawn",
		events.IndexedAddress("_initiator", initiator),
		events.IndexedAddress("_userAddress", dest),
		events.Amount("_amount", amount)))
	return nil
}

// CreateVesting makes sure every vested schedule of the caller has a vesting instance and
// returns them in schedule order. Schedules that already have one are left untouched.
func (v *Vault) CreateVesting(ctx context.Context, sink events.Sink, caller common.Address) ([]common.Address, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.createVesting(ctx, sink, caller, caller)
}

// StakeTokens moves every non-empty vested schedule of the caller into its vesting instance
// and stakes it.
func (v *Vault) StakeTokens(ctx context.Context, sink events.Sink, caller common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stakeTokens(ctx, sink, caller, caller)
}

func (v *Vault) CreateVestingAndStake(ctx context.Context, sink events.Sink, caller common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, err := v.createVesting(ctx, sink, caller, caller); err != nil {
		return err
	}
	return v.stakeTokens(ctx, sink, caller, caller)
}

// WithdrawAndStakeTokens withdraws the caller's waited-unlocked bucket to dest (or the caller)
// and then creates and stakes the caller's vestings.
func (v *Vault) WithdrawAndStakeTokens(ctx context.Context, sink events.Sink, caller, dest common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if dest == (common.Address{}) {
		dest = caller
	}
	return v.withdrawAndStake(ctx, sink, caller, caller, dest)
}

// WithdrawAndStakeTokensFrom is WithdrawAndStakeTokens triggered by anyone on behalf of user.
// Funds always go to user.
func (v *Vault) WithdrawAndStakeTokensFrom(ctx context.Context, sink events.Sink, caller, user common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if user == (common.Address{}) {
		return abort.Invalid(ReasonInvalidAddress)
	}
	return v.withdrawAndStake(ctx, sink, caller, user, user)
}

func (v *Vault) withdrawAndStake(ctx context.Context, sink events.Sink, initiator, user, dest common.Address) error {
	if len(v.st.vestedSchedules[user]) == 0 {
		return abort.Precondition(ReasonScheduleNotSet)
	}
	if err := v.withdrawWaited(ctx, sink, initiator, user, dest); err != nil {
		return err
	}
	if _, err := v.createVesting(ctx, sink, initiator, user); err != nil {
		return err
	}
	return v.stakeTokens(ctx, sink, initiator, user)
}

func (v *Vault) createVesting(ctx context.Context, sink events.Sink, initiator, user common.Address) ([]common.Address, error) {
	schedules := v.st.vestedSchedules[user]
	if len(schedules) == 0 {
		return nil, abort.Precondition(ReasonScheduleNotSet)
	}

	out := make([]common.Address, 0, len(schedules))
	var registry vesting.Registry
	for _, s := range schedules {
		key := s.Key()
		if ref, ok := v.st.vestings[user][key]; ok {
			out = append(out, ref.vesting)
			continue
		}
		if registry == nil {
			r, ok := v.dir.Registry(v.st.registry)
			if !ok {
				return nil, abort.Precondition(ReasonRegistryInvalid)
			}
			registry = r
		}
		addr, err := registry.CreateVesting(ctx, v.addr, user, s)
		if err != nil {
			return nil, err
		}
		if addr == (common.Address{}) {
			return nil, abort.Precondition(ReasonVestingInvalid)
		}
		m, ok := v.st.vestings[user]
		if !ok {
			m = make(map[common.Hash]vestingRef)
			v.st.vestings[user] = m
		}
		m[key] = vestingRef{vesting: addr, registry: registry.Address()}
		out = append(out, addr)

		sink.Emit(events.New(v.addr, "VestingCreated",
			events.IndexedAddress("_initiator", initiator),
			events.IndexedAddress("_userAddress", user),
			events.Address("_vesting", addr)))
	}
	return out, nil
}

func (v *Vault) stakeTokens(ctx context.Context, sink events.Sink, initiator, user common.Address) error {
	schedules := v.st.vestedSchedules[user]
	if len(schedules) == 0 {
		return abort.Precondition(ReasonNoVesting)
	}

	// Resolve every instance before touching balances.
	var stakes []stake
	for _, s := range schedules {
		key := s.Key()
		amount := v.st.vested[user][key]
		if units.IsZero(amount) {
			continue
		}
		ref, ok := v.st.vestings[user][key]
		if !ok || ref.vesting == (common.Address{}) {
			return abort.Precondition(ReasonVestingInvalid)
		}
		registry, ok := v.dir.Registry(ref.registry)
		if !ok {
			return abort.Precondition(ReasonVestingInvalid)
		}
		stakes = append(stakes, stake{vesting: ref.vesting, registry: registry, amount: units.Clone(amount)})
	}
	for _, s := range schedules {
		if m := v.st.vested[user]; m != nil {
			if _, ok := m[s.Key()]; ok {
				m[s.Key()] = units.Zero()
			}
		}
	}

	for _, s := range stakes {
		if err := s.run(ctx, v); err != nil {
			return err
		}
		sink.Emit(events.New(v.addr, "TokenStaked",
			events.IndexedAddress("_initiator", initiator),
			events.IndexedAddress("_vesting", s.vesting),
			events.Amount("_amount", s.amount)))
	}
	return nil
}

var (
	_ effect = payout{}
	_ effect = stake{}
)
