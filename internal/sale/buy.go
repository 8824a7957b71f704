package sale

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Sovryn-Origins/origins/internal/abort"
	"github.com/Sovryn-Origins/origins/internal/events"
	"github.com/Sovryn-Origins/origins/internal/lockedfund"
	"github.com/Sovryn-Origins/origins/internal/token"
	"github.com/Sovryn-Origins/origins/internal/units"
)

// Buy accepts a deposit into a tier. Native value attached to the call is moved into escrow and
// the part above the buyer's remaining cap (or, for FCFS tiers, above what the remaining supply
// can cover) is refunded. FCFS purchases settle into the ledger immediately; Pooled deposits
// stay escrowed until the tier is closed and claimed.
func (e *Engine) Buy(ctx context.Context, sink events.Sink, caller common.Address, in BuyInput) (Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.tier(in.TierID)
	if err != nil {
		return Receipt{}, err
	}
	if err := e.checkOpen(t); err != nil {
		return Receipt{}, err
	}
	if err := e.checkBuyer(t, caller, in.StakeID); err != nil {
		return Receipt{}, err
	}
	if t.TransferType == TransferNone {
		return Receipt{}, abort.Precondition(ReasonTransferTypeUnset)
	}

	deposit := units.Clone(in.Value)
	if t.DepositType == DepositToken {
		if !units.IsZero(in.Value) {
			return Receipt{}, abort.Invalid(ReasonValueForTokenDeposit)
		}
		deposit = units.Clone(in.Amount)
	}
	if deposit.IsZero() {
		return Receipt{}, abort.Invalid(ReasonAmountZero)
	}
	if deposit.Lt(t.MinAmount) {
		return Receipt{}, abort.Invalid(ReasonBelowMinimum)
	}
	key := tierUser{tier: t.ID, user: caller}
	bought := units.Clone(e.st.bought[key])
	if !bought.Lt(t.MaxAmount) {
		return Receipt{}, abort.Capacity(ReasonMaximumBought)
	}

	room, err := units.Sub(t.MaxAmount, bought)
	if err != nil {
		return Receipt{}, err
	}
	accepted := units.Min(deposit, room)
	if t.SaleType != SalePooled {
		supply, err := units.Div(t.RemainingTokens, t.DepositRate)
		if err != nil {
			return Receipt{}, err
		}
		accepted = units.Min(accepted, supply)
		if accepted.IsZero() {
			return Receipt{}, abort.Capacity(ReasonSaleEnded)
		}
	}
	refund, err := units.Sub(deposit, accepted)
	if err != nil {
		return Receipt{}, err
	}
	tokens := units.Zero()
	if t.SaleType != SalePooled {
		if tokens, err = units.Mul(accepted, t.DepositRate); err != nil {
			return Receipt{}, err
		}
	}

	depositToken, ok := e.tokens.Token(t.DepositToken)
	if !ok {
		return Receipt{}, abort.Precondition(ReasonDepositTokenZero)
	}
	var ledger Ledger
	if t.SaleType != SalePooled {
		if ledger, err = e.ledger(); err != nil {
			return Receipt{}, err
		}
	}

	// Accounting first; collaborator calls below only see updated state.
	newBought, err := units.Add(bought, accepted)
	if err != nil {
		return Receipt{}, err
	}
	if t.SaleType == SalePooled {
		if err := e.escrow(t, caller, accepted); err != nil {
			return Receipt{}, err
		}
	} else {
		if err := e.book(t, accepted, tokens); err != nil {
			return Receipt{}, err
		}
	}
	if bought.IsZero() {
		e.st.participants[t.ID]++
		e.st.wallets[caller] = struct{}{}
	}
	e.st.bought[key] = newBought

	if t.DepositType == DepositToken {
		if err := depositToken.TransferFrom(ctx, e.addr, caller, e.addr, accepted); err != nil {
			return Receipt{}, err
		}
	} else {
		if err := depositToken.Transfer(ctx, caller, e.addr, deposit); err != nil {
			return Receipt{}, err
		}
		if !refund.IsZero() {
			if err := depositToken.Transfer(ctx, e.addr, caller, refund); err != nil {
				return Receipt{}, err
			}
		}
	}
	if ledger != nil {
		if err := e.distribute(ctx, sink, ledger, t, caller, tokens); err != nil {
			return Receipt{}, err
		}
	}

	sink.Emit(events.New(e.addr, "TokenBuy",
		events.IndexedAddress("_initiator", caller),
		events.Uint("_tierID", t.ID),
		events.Amount("_amount", tokens),
		events.Amount("_deposit", accepted)))
	return Receipt{Accepted: accepted, Refunded: refund, Tokens: tokens}, nil
}

// checkOpen validates the sale window and supply of t.
func (e *Engine) checkOpen(t *Tier) error {
	if t.SaleEndMode == EndNone || t.SaleEnd == 0 {
		return abort.Temporal(ReasonSaleNotAllowed)
	}
	now := e.unix()
	if t.SaleStartTS == 0 || t.SaleStartTS > now {
		return abort.Temporal(ReasonNotStarted)
	}
	if e.ended(t, now) {
		return abort.Temporal(ReasonSaleEnded)
	}
	return nil
}

func (e *Engine) ended(t *Tier, now uint64) bool {
	if t.Closed || t.RemainingTokens.IsZero() {
		return true
	}
	switch t.SaleEndMode {
	case EndDuration, EndTimestamp:
		return now > t.SaleEnd
	}
	return false
}

func (e *Engine) checkBuyer(t *Tier, user common.Address, stakeID uint64) error {
	switch t.Verification {
	case VerifyEveryone:
		return nil
	case VerifyByAddress:
		if !e.st.approved[tierUser{tier: t.ID, user: user}] {
			return abort.Unauthorized(ReasonNotApproved)
		}
		return nil
	case VerifyByStake:
		if !e.meetsStake(t, user, stakeID) {
			return abort.Unauthorized(ReasonStakeCondition)
		}
		return nil
	default:
		return abort.Unauthorized(ReasonNoOneAllowed)
	}
}

func (e *Engine) meetsStake(t *Tier, user common.Address, stakeID uint64) bool {
	if e.staking == nil {
		return false
	}
	stake := units.Clone(e.staking.StakeOf(user, stakeID))
	if stake.IsZero() || stake.Lt(t.MinStake) {
		return false
	}
	return t.MaxStake.IsZero() || !stake.Gt(t.MaxStake)
}

func (e *Engine) ledger() (Ledger, error) {
	if e.st.lockedFund == (common.Address{}) {
		return nil, abort.Precondition(ReasonLockedFundUnset)
	}
	l, ok := e.ledgers.Ledger(e.st.lockedFund)
	if !ok {
		return nil, abort.Precondition(ReasonLockedFundUnset)
	}
	return l, nil
}

// book records an FCFS sale of tokens for deposit.
func (e *Engine) book(t *Tier, deposit, tokens *uint256.Int) error {
	remaining, err := units.Sub(t.RemainingTokens, tokens)
	if err != nil {
		return err
	}
	sold, err := units.Add(e.st.sold[t.ID], tokens)
	if err != nil {
		return err
	}
	proceeds, err := units.Add(e.st.proceeds[t.DepositToken], deposit)
	if err != nil {
		return err
	}
	t.RemainingTokens = remaining
	e.st.sold[t.ID] = sold
	e.st.proceeds[t.DepositToken] = proceeds
	return nil
}

func (e *Engine) escrow(t *Tier, user common.Address, deposit *uint256.Int) error {
	p := e.st.pools[t.ID]
	if p == nil {
		p = newPool(t.DepositToken)
		e.st.pools[t.ID] = p
	}
	total, err := units.Add(p.total, deposit)
	if err != nil {
		return err
	}
	mine, err := units.Add(p.deposits[user], deposit)
	if err != nil {
		return err
	}
	if _, seen := p.deposits[user]; !seen {
		p.depositors = append(p.depositors, user)
	}
	p.total = total
	p.deposits[user] = mine
	return nil
}

// distribute approves the ledger for tokens and deposits them for user according to the tier's
// transfer type.
func (e *Engine) distribute(ctx context.Context, sink events.Sink, l Ledger, t *Tier, user common.Address, tokens *uint256.Int) error {
	if err := e.token.Approve(ctx, e.addr, l.Address(), tokens); err != nil {
		return err
	}
	switch t.TransferType {
	case TransferUnlocked:
		return l.DepositWaitedUnlocked(ctx, sink, e.addr, user, tokens, units.MaxBasisPoints)
	case TransferWaitedUnlock:
		return l.DepositWaitedUnlocked(ctx, sink, e.addr, user, tokens, t.UnlockedBP)
	case TransferVested:
		return l.DepositVested(ctx, sink, e.addr, user, tokens, t.CliffPeriods, t.DurationPeriods, t.UnlockedBP, lockedfund.UnlockWaited)
	case TransferLocked:
		return l.DepositLocked(ctx, sink, e.addr, user, tokens, t.CliffPeriods, t.DurationPeriods, t.UnlockedBP, lockedfund.UnlockWaited)
	default:
		return abort.Precondition(ReasonTransferTypeUnset)
	}
}

// CloseSaleOf closes a tier whose time window has passed. For Pooled tiers it fixes every
// depositor's allocation: min(deposit*rate, floor(deposit*remaining/totalDeposits)).
func (e *Engine) CloseSaleOf(sink events.Sink, caller common.Address, tierID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.tier(tierID)
	if err != nil {
		return err
	}
	if t.Closed || t.SaleEndMode == EndNone || t.SaleEndMode == EndUntilSupply || t.SaleEnd == 0 || e.unix() <= t.SaleEnd {
		return abort.Temporal(ReasonCannotClose)
	}

	if p := e.st.pools[tierID]; t.SaleType == SalePooled && p != nil && !p.total.IsZero() {
		reserved := units.Zero()
		allocations := make(map[common.Address]*uint256.Int, len(p.depositors))
		for _, u := range p.depositors {
			d := p.deposits[u]
			full, err := units.Mul(d, t.DepositRate)
			if err != nil {
				return err
			}
			share, err := units.MulDiv(d, t.RemainingTokens, p.total)
			if err != nil {
				return err
			}
			a := units.Min(full, share)
			allocations[u] = a
			if reserved, err = units.Add(reserved, a); err != nil {
				return err
			}
		}
		remaining, err := units.Sub(t.RemainingTokens, reserved)
		if err != nil {
			return err
		}
		p.allocations = allocations
		t.RemainingTokens = remaining
	}
	t.Closed = true

	sink.Emit(events.New(e.addr, "SaleClosed",
		events.IndexedAddress("_initiator", caller),
		events.Uint("_tierID", tierID)))
	return nil
}

// Claim settles user's escrowed deposit in a closed Pooled tier: the allocation goes through
// the ledger, ceil(allocation/rate) of the deposit becomes proceeds and the rest is refunded.
// Anyone may trigger it; funds always go to user.
func (e *Engine) Claim(ctx context.Context, sink events.Sink, caller common.Address, tierID uint64, user common.Address) (Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.tier(tierID)
	if err != nil {
		return Receipt{}, err
	}
	if t.SaleType != SalePooled {
		return Receipt{}, abort.Precondition(ReasonNotPooled)
	}
	if !t.Closed {
		return Receipt{}, abort.Temporal(ReasonNotClosed)
	}
	p := e.st.pools[tierID]
	if p == nil || units.IsZero(p.deposits[user]) {
		return Receipt{}, abort.Precondition(ReasonNothingToClaim)
	}
	if p.claimed[user] {
		return Receipt{}, abort.Precondition(ReasonAlreadyClaimed)
	}

	deposit := units.Clone(p.deposits[user])
	tokens := units.Clone(p.allocations[user])
	cost, err := units.CeilDiv(tokens, t.DepositRate)
	if err != nil {
		return Receipt{}, err
	}
	cost = units.Min(cost, deposit)
	refund, err := units.Sub(deposit, cost)
	if err != nil {
		return Receipt{}, err
	}
	depositToken, ok := e.tokens.Token(p.token)
	if !ok {
		return Receipt{}, abort.Precondition(ReasonDepositTokenZero)
	}
	var ledger Ledger
	if !tokens.IsZero() {
		if ledger, err = e.ledger(); err != nil {
			return Receipt{}, err
		}
	}

	sold, err := units.Add(e.st.sold[tierID], tokens)
	if err != nil {
		return Receipt{}, err
	}
	proceeds, err := units.Add(e.st.proceeds[p.token], cost)
	if err != nil {
		return Receipt{}, err
	}
	p.claimed[user] = true
	e.st.sold[tierID] = sold
	e.st.proceeds[p.token] = proceeds

	if !refund.IsZero() {
		if err := depositToken.Transfer(ctx, e.addr, user, refund); err != nil {
			return Receipt{}, err
		}
	}
	if ledger != nil {
		if err := e.distribute(ctx, sink, ledger, t, user, tokens); err != nil {
			return Receipt{}, err
		}
	}

	sink.Emit(events.New(e.addr, "TokensClaimed",
		events.IndexedAddress("_initiator", caller),
		events.IndexedAddress("_userAddress", user),
		events.Uint("_tierID", tierID),
		events.Amount("_amount", tokens),
		events.Amount("_refund", refund)))
	return Receipt{Accepted: cost, Refunded: refund, Tokens: tokens}, nil
}

// WithdrawSaleDeposit sends every accumulated proceed to the deposit address, or to the caller
// when none is set.
func (e *Engine) WithdrawSaleDeposit(ctx context.Context, sink events.Sink, caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.st.roster.OnlyOwner(caller); err != nil {
		return err
	}
	receiver := e.receiver(caller)

	type payout struct {
		tok    token.Token
		amount *uint256.Int
	}
	var payouts []payout
	for _, addr := range sortedAddresses(e.st.proceeds) {
		amount := e.st.proceeds[addr]
		if amount.IsZero() {
			continue
		}
		tok, ok := e.tokens.Token(addr)
		if !ok {
			return abort.Precondition(ReasonDepositTokenZero)
		}
		payouts = append(payouts, payout{tok: tok, amount: units.Clone(amount)})
		e.st.proceeds[addr] = units.Zero()
	}
	for _, p := range payouts {
		if err := p.tok.Transfer(ctx, e.addr, receiver, p.amount); err != nil {
			return err
		}
		sink.Emit(events.New(e.addr, "ProceedsWithdrawn",
			events.IndexedAddress("_initiator", caller),
			events.IndexedAddress("_receiver", receiver),
			events.Address("_token", p.tok.Address()),
			events.Amount("_amount", p.amount)))
	}
	return nil
}

// WithdrawUnsoldTokens returns the unsold supply of a finished tier to the deposit address
// (or the caller). An FCFS tier is finished once its window has passed or its remaining supply
// is worth less than one deposit unit. Pooled tiers must be closed first so that allocations
// are reserved.
func (e *Engine) WithdrawUnsoldTokens(ctx context.Context, sink events.Sink, caller common.Address, tierID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.st.roster.OnlyOwner(caller); err != nil {
		return err
	}
	t, err := e.tier(tierID)
	if err != nil {
		return err
	}
	finished := t.Closed
	if !finished && t.SaleType != SalePooled {
		switch t.SaleEndMode {
		case EndDuration, EndTimestamp:
			finished = t.SaleEnd != 0 && e.unix() > t.SaleEnd
		}
		// Less than one deposit unit's worth of supply can never be bought.
		finished = finished || t.RemainingTokens.Lt(t.DepositRate)
	}
	if !finished || t.RemainingTokens.IsZero() {
		return abort.Temporal(ReasonCannotWithdrawUnsold)
	}

	amount := units.Clone(t.RemainingTokens)
	alloc, err := units.Sub(e.st.allocation[tierID], amount)
	if err != nil {
		return err
	}
	t.RemainingTokens = units.Zero()
	e.st.allocation[tierID] = alloc
	receiver := e.receiver(caller)
	if err := e.token.Transfer(ctx, e.addr, receiver, amount); err != nil {
		return err
	}
	sink.Emit(events.New(e.addr, "UnsoldTokensWithdrawn",
		events.IndexedAddress("_initiator", caller),
		events.IndexedAddress("_receiver", receiver),
		events.Uint("_tierID", tierID),
		events.Amount("_amount", amount)))
	return nil
}

func (e *Engine) receiver(caller common.Address) common.Address {
	if e.st.depositAddress != (common.Address{}) {
		return e.st.depositAddress
	}
	return caller
}
