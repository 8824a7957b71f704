package sale

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Sovryn-Origins/origins/internal/abort"
	"github.com/Sovryn-Origins/origins/internal/events"
	"github.com/Sovryn-Origins/origins/internal/token"
	"github.com/Sovryn-Origins/origins/internal/units"
)

// CreateTier registers a new First-Come-First-Serve tier with no minimum purchase and pulls its
// RemainingTokens from the caller into escrow. It returns the tier id. The minimum and the sale
// type are set afterwards with SetTier.
func (e *Engine) CreateTier(ctx context.Context, sink events.Sink, caller common.Address, p NewTier) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.st.roster.OnlyOwner(caller); err != nil {
		return 0, err
	}

	t := Tier{
		ID:              uint64(len(e.st.tiers)) + 1,
		MinAmount:       units.Zero(),
		MaxAmount:       units.Clone(p.MaxAmount),
		RemainingTokens: units.Clone(p.RemainingTokens),
		UnlockedBP:      p.UnlockedBP,
		CliffPeriods:    p.CliffPeriods,
		DurationPeriods: p.DurationPeriods,
		DepositRate:     units.Clone(p.DepositRate),
		DepositToken:    token.NativeAddress,
		DepositType:     p.DepositType,
		Verification:    p.Verification,
		TransferType:    p.TransferType,
		SaleType:        SaleFCFS,
		MinStake:        units.Zero(),
		MaxStake:        units.Zero(),
	}
	if t.RemainingTokens.IsZero() {
		return 0, abort.Invalid(ReasonRemainingZero)
	}
	if err := checkLimits(t.MinAmount, t.MaxAmount, t.RemainingTokens); err != nil {
		return 0, err
	}
	if t.DepositRate.IsZero() {
		return 0, abort.Invalid(ReasonRateZero)
	}
	if t.DepositType == DepositToken {
		if p.DepositToken == (common.Address{}) {
			return 0, abort.Invalid(ReasonDepositTokenZero)
		}
		t.DepositToken = p.DepositToken
	}
	if err := checkVestOrLock(p.CliffPeriods, p.DurationPeriods, p.UnlockedBP); err != nil {
		return 0, err
	}
	if err := applyWindow(&t, Window{Start: p.SaleStartTS, End: p.SaleEnd, Mode: p.SaleEndMode}, e.unix()); err != nil {
		return 0, err
	}

	if err := e.token.TransferFrom(ctx, e.addr, caller, e.addr, t.RemainingTokens); err != nil {
		return 0, err
	}
	e.st.tiers = append(e.st.tiers, t)
	e.st.allocation[t.ID] = units.Clone(t.RemainingTokens)
	e.st.sold[t.ID] = units.Zero()

	sink.Emit(events.New(e.addr, "TierCreated",
		events.IndexedAddress("_initiator", caller),
		events.Uint("_tierID", t.ID)))
	return t.ID, nil
}

// SetTier applies every non-nil group of patch to the tier atomically. Changing TokenAmount
// pulls the increase from the caller or returns the decrease to it.
func (e *Engine) SetTier(ctx context.Context, sink events.Sink, caller common.Address, tierID uint64, patch TierPatch) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.st.roster.OnlyOwner(caller); err != nil {
		return err
	}
	cur, err := e.tier(tierID)
	if err != nil {
		return err
	}
	next := cur.clone()
	escrowed := false
	if p := e.st.pools[tierID]; p != nil && !p.total.IsZero() {
		escrowed = true
	}

	if patch.Verification != nil {
		next.Verification = *patch.Verification
	}
	if d := patch.Deposit; d != nil {
		if units.IsZero(d.Rate) {
			return abort.Invalid(ReasonRateZero)
		}
		tok := token.NativeAddress
		if d.Type == DepositToken {
			if d.Token == (common.Address{}) {
				return abort.Invalid(ReasonDepositTokenZero)
			}
			tok = d.Token
		}
		if escrowed {
			return abort.Precondition(ReasonTermsLocked)
		}
		next.DepositRate = units.Clone(d.Rate)
		next.DepositToken = tok
		next.DepositType = d.Type
	}
	if l := patch.Limits; l != nil {
		next.MinAmount = units.Clone(l.Min)
		next.MaxAmount = units.Clone(l.Max)
	}
	if patch.TokenAmount != nil {
		if patch.TokenAmount.IsZero() {
			return abort.Invalid(ReasonRemainingZero)
		}
		next.RemainingTokens = units.Clone(patch.TokenAmount)
	}
	if patch.Limits != nil || patch.TokenAmount != nil {
		if err := checkLimits(next.MinAmount, next.MaxAmount, next.RemainingTokens); err != nil {
			return err
		}
	}
	if v := patch.VestOrLock; v != nil {
		if err := checkVestOrLock(v.CliffPeriods, v.DurationPeriods, v.UnlockedBP); err != nil {
			return err
		}
		next.CliffPeriods = v.CliffPeriods
		next.DurationPeriods = v.DurationPeriods
		next.UnlockedTokenWithdrawTS = v.UnlockedTokenWithdrawTS
		next.UnlockedBP = v.UnlockedBP
		next.TransferType = v.TransferType
	}
	if w := patch.Time; w != nil {
		if escrowed {
			return abort.Precondition(ReasonTermsLocked)
		}
		if err := applyWindow(&next, *w, e.unix()); err != nil {
			return err
		}
	}
	if st := patch.SaleType; st != nil {
		if escrowed && *st != next.SaleType {
			return abort.Precondition(ReasonTermsLocked)
		}
		next.SaleType = *st
	}
	if c := patch.StakeCondition; c != nil {
		if !units.IsZero(c.Max) && units.Clone(c.Min).Gt(c.Max) {
			return abort.Invalid(ReasonStakeRange)
		}
		next.MinStake = units.Clone(c.Min)
		next.MaxStake = units.Clone(c.Max)
	}

	if next.SaleType == SalePooled && next.SaleEndMode == EndUntilSupply {
		return abort.Invalid(ReasonPooledUntilSupply)
	}

	if patch.TokenAmount != nil {
		if err := e.resize(ctx, caller, tierID, cur.RemainingTokens, next.RemainingTokens); err != nil {
			return err
		}
	}
	*cur = next

	sink.Emit(events.New(e.addr, "TierUpdated",
		events.IndexedAddress("_initiator", caller),
		events.Uint("_tierID", tierID)))
	return nil
}

func (e *Engine) resize(ctx context.Context, caller common.Address, tierID uint64, from, to *uint256.Int) error {
	alloc := e.st.allocation[tierID]
	switch from.Cmp(to) {
	case -1:
		diff, err := units.Sub(to, from)
		if err != nil {
			return err
		}
		grown, err := units.Add(alloc, diff)
		if err != nil {
			return err
		}
		if err := e.token.TransferFrom(ctx, e.addr, caller, e.addr, diff); err != nil {
			return err
		}
		e.st.allocation[tierID] = grown
	case 1:
		diff, err := units.Sub(from, to)
		if err != nil {
			return err
		}
		shrunk, err := units.Sub(alloc, diff)
		if err != nil {
			return err
		}
		e.st.allocation[tierID] = shrunk
		if err := e.token.Transfer(ctx, e.addr, caller, diff); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) SetTierVerification(ctx context.Context, sink events.Sink, caller common.Address, tierID uint64, v Verification) error {
	return e.SetTier(ctx, sink, caller, tierID, TierPatch{Verification: &v})
}

func (e *Engine) SetTierDeposit(ctx context.Context, sink events.Sink, caller common.Address, tierID uint64, rate *uint256.Int, depositToken common.Address, depositType DepositType) error {
	return e.SetTier(ctx, sink, caller, tierID, TierPatch{Deposit: &DepositTerms{Rate: rate, Token: depositToken, Type: depositType}})
}

func (e *Engine) SetTierTokenLimit(ctx context.Context, sink events.Sink, caller common.Address, tierID uint64, minAmount, maxAmount *uint256.Int) error {
	return e.SetTier(ctx, sink, caller, tierID, TierPatch{Limits: &Limits{Min: minAmount, Max: maxAmount}})
}

func (e *Engine) SetTierTokenAmount(ctx context.Context, sink events.Sink, caller common.Address, tierID uint64, remaining *uint256.Int) error {
	return e.SetTier(ctx, sink, caller, tierID, TierPatch{TokenAmount: units.Clone(remaining)})
}

func (e *Engine) SetTierVestOrLock(ctx context.Context, sink events.Sink, caller common.Address, tierID uint64, v VestOrLock) error {
	return e.SetTier(ctx, sink, caller, tierID, TierPatch{VestOrLock: &v})
}

func (e *Engine) SetTierTime(ctx context.Context, sink events.Sink, caller common.Address, tierID uint64, start, end uint64, mode SaleEndMode) error {
	return e.SetTier(ctx, sink, caller, tierID, TierPatch{Time: &Window{Start: start, End: end, Mode: mode}})
}

func (e *Engine) SetTierSaleType(ctx context.Context, sink events.Sink, caller common.Address, tierID uint64, st SaleType) error {
	return e.SetTier(ctx, sink, caller, tierID, TierPatch{SaleType: &st})
}

func (e *Engine) SetTierStakeCondition(ctx context.Context, sink events.Sink, caller common.Address, tierID uint64, minStake, maxStake *uint256.Int) error {
	return e.SetTier(ctx, sink, caller, tierID, TierPatch{StakeCondition: &StakeCondition{Min: minStake, Max: maxStake}})
}

func checkLimits(minAmount, maxAmount, remaining *uint256.Int) error {
	if units.Clone(minAmount).Gt(units.Clone(maxAmount)) {
		return abort.Invalid(ReasonMinAboveMax)
	}
	if units.Clone(maxAmount).Gt(units.Clone(remaining)) {
		return abort.Invalid(ReasonMaxAboveSupply)
	}
	return nil
}

func checkVestOrLock(cliff, duration, bp uint64) error {
	if cliff > duration {
		return abort.Invalid(ReasonCliffAboveDuration)
	}
	if bp > units.MaxBasisPoints {
		return abort.Invalid(ReasonBasisPoint)
	}
	return nil
}

// applyWindow stores the sale window. With EndDuration a non-zero end is relative to start.
func applyWindow(t *Tier, w Window, now uint64) error {
	end := w.End
	switch w.Mode {
	case EndDuration:
		if w.End != 0 {
			if w.Start > ^uint64(0)-w.End {
				return abort.Invalid(ReasonStartAfterEnd)
			}
			end = w.Start + w.End
		}
	case EndTimestamp:
		if w.Start >= w.End {
			return abort.Invalid(ReasonStartAfterEnd)
		}
		if w.End <= now {
			return abort.Invalid(ReasonEndInPast)
		}
	}
	t.SaleStartTS = w.Start
	t.SaleEnd = end
	t.SaleEndMode = w.Mode
	return nil
}
