package lockedfund

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Sovryn-Origins/origins/internal/abort"
	"github.com/Sovryn-Origins/origins/internal/events"
	"github.com/Sovryn-Origins/origins/internal/units"
	"github.com/Sovryn-Origins/origins/internal/vesting"
)

// credit is the accounting result of a validated deposit.
type credit struct {
	schedule vesting.Schedule
	bucket   *uint256.Int // vested or locked share
	unlocked *uint256.Int
	waited   *uint256.Int
}

func (v *Vault) DepositVested(ctx context.Context, sink events.Sink, caller, user common.Address, amount *uint256.Int, cliffPeriods, durationPeriods, unlockedBP uint64, mode UnlockMode) error {
	return v.Deposit(ctx, sink, caller, user, amount, Distribution{
		Kind:            KindVested,
		CliffPeriods:    cliffPeriods,
		DurationPeriods: durationPeriods,
		UnlockedBP:      unlockedBP,
		Unlock:          mode,
	})
}

func (v *Vault) DepositLocked(ctx context.Context, sink events.Sink, caller, user common.Address, amount *uint256.Int, cliffPeriods, durationPeriods, unlockedBP uint64, mode UnlockMode) error {
	return v.Deposit(ctx, sink, caller, user, amount, Distribution{
		Kind:            KindLocked,
		CliffPeriods:    cliffPeriods,
		DurationPeriods: durationPeriods,
		UnlockedBP:      unlockedBP,
		Unlock:          mode,
	})
}

func (v *Vault) DepositWaitedUnlocked(ctx context.Context, sink events.Sink, caller, user common.Address, amount *uint256.Int, unlockedBP uint64) error {
	return v.Deposit(ctx, sink, caller, user, amount, Distribution{
		Kind:       KindWaitedUnlocked,
		UnlockedBP: unlockedBP,
	})
}

// Deposit pulls amount of the token from caller and credits user according to d.
// The unlocked share is floor(amount*bp/10000); the other share takes the remainder.
func (v *Vault) Deposit(ctx context.Context, sink events.Sink, caller, user common.Address, amount *uint256.Int, d Distribution) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.st.admins.Require(caller); err != nil {
		return err
	}
	c, err := plan(user, amount, d)
	if err != nil {
		return err
	}
	if err := v.token.TransferFrom(ctx, v.addr, caller, v.addr, amount); err != nil {
		return err
	}
	if err := v.st.apply(user, d.Kind, c); err != nil {
		return err
	}

	switch d.Kind {
	case KindVested, KindLocked:
		name := "VestedDeposited"
		if d.Kind == KindLocked {
			name = "LockedDeposited"
		}
		sink.Emit(events.New(v.addr, name,
			events.IndexedAddress("_initiator", caller),
			events.IndexedAddress("_userAddress", user),
			events.Amount("_amount", amount),
			events.Uint("_cliff", d.CliffPeriods),
			events.Uint("_duration", d.DurationPeriods),
			events.Uint("_basisPoint", d.UnlockedBP)))
	case KindWaitedUnlocked:
		sink.Emit(events.New(v.addr, "WaitedUnlockedDeposited",
			events.IndexedAddress("_initiator", caller),
			events.IndexedAddress("_userAddress", user),
			events.Amount("_amount", amount),
			events.Uint("_basisPoint", d.UnlockedBP)))
	}
	return nil
}

func plan(user common.Address, amount *uint256.Int, d Distribution) (credit, error) {
	if user == (common.Address{}) {
		return credit{}, abort.Invalid(ReasonInvalidAddress)
	}
	var c credit
	switch d.Kind {
	case KindVested, KindLocked:
		if d.DurationPeriods == 0 {
			return credit{}, abort.Invalid(ReasonDurationZero)
		}
		if d.DurationPeriods > MaxDurationPeriods {
			return credit{}, abort.Invalid(ReasonDurationTooLong)
		}
		if d.CliffPeriods > d.DurationPeriods {
			return credit{}, abort.Invalid(ReasonCliffAboveDur)
		}
		s, err := vesting.FromPeriods(d.CliffPeriods, d.DurationPeriods)
		if err != nil {
			return credit{}, err
		}
		c.schedule = s
	case KindWaitedUnlocked:
	default:
		return credit{}, abort.Invalid(ReasonUnknownKind)
	}
	if d.UnlockedBP > units.MaxBasisPoints {
		return credit{}, abort.Invalid(ReasonBasisPoint)
	}
	if units.IsZero(amount) {
		return credit{}, abort.Invalid(ReasonAmountZero)
	}

	share, rest, err := units.SplitBasisPoints(amount, d.UnlockedBP)
	if err != nil {
		return credit{}, err
	}
	c.unlocked, c.waited, c.bucket = units.Zero(), units.Zero(), units.Zero()

	if d.Kind == KindWaitedUnlocked {
		c.unlocked, c.waited = share, rest
		return c, nil
	}
	switch d.Unlock {
	case UnlockNone:
		c.bucket = units.Clone(amount)
	case UnlockImmediate:
		c.unlocked, c.bucket = share, rest
	case UnlockWaited:
		c.waited, c.bucket = share, rest
	default:
		return credit{}, abort.Invalid(ReasonUnknownUnlock)
	}
	return c, nil
}

var errBucketOverflow = errors.New("lockedfund: bucket overflow")

// apply computes every new balance before writing any of them.
func (s *state) apply(user common.Address, kind Kind, c credit) error {
	unlocked, err1 := units.Add(s.unlocked[user], c.unlocked)
	waited, err2 := units.Add(s.waited[user], c.waited)
	var (
		bucket map[common.Address]map[common.Hash]*uint256.Int
		order  map[common.Address][]vesting.Schedule
	)
	switch kind {
	case KindVested:
		bucket, order = s.vested, s.vestedSchedules
	case KindLocked:
		bucket, order = s.locked, s.lockedSchedules
	}
	var (
		key      common.Hash
		schedule *uint256.Int
		err3     error
	)
	if bucket != nil {
		key = c.schedule.Key()
		schedule, err3 = units.Add(bucket[user][key], c.bucket)
	}
	if err := errors.Join(err1, err2, err3); err != nil {
		return errors.Join(errBucketOverflow, err)
	}

	s.touch(user)
	s.unlocked[user] = unlocked
	s.waited[user] = waited
	if bucket != nil {
		m, ok := bucket[user]
		if !ok {
			m = make(map[common.Hash]*uint256.Int)
			bucket[user] = m
		}
		if _, seen := m[key]; !seen {
			order[user] = append(order[user], c.schedule)
		}
		m[key] = schedule
	}
	return nil
}
