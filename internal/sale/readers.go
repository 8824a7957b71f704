package sale

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Sovryn-Origins/origins/internal/units"
)

func (e *Engine) TierCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return uint64(len(e.st.tiers))
}

// ReadTier returns a copy of the tier.
func (e *Engine) ReadTier(tierID uint64) (Tier, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, err := e.tier(tierID)
	if err != nil {
		return Tier{}, false
	}
	return t.clone(), true
}

func (e *Engine) Tiers() []Tier {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Tier, len(e.st.tiers))
	for i, t := range e.st.tiers {
		out[i] = t.clone()
	}
	return out
}

func (e *Engine) Token() common.Address { return e.token.Address() }

func (e *Engine) DepositAddress() common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.depositAddress
}

func (e *Engine) LockedFund() common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.lockedFund
}

func (e *Engine) Owners() []common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.roster.Owners()
}

func (e *Engine) Verifiers() []common.Address {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.roster.Verifiers()
}

func (e *Engine) CheckOwner(addr common.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.roster.IsOwner(addr)
}

func (e *Engine) CheckVerifier(addr common.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.roster.IsVerifier(addr)
}

func (e *Engine) IsAddressApproved(user common.Address, tierID uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.approved[tierUser{tier: tierID, user: user}]
}

// TokensBoughtByAddressOnTier is the user's accepted deposit on the tier, in deposit units.
func (e *Engine) TokensBoughtByAddressOnTier(user common.Address, tierID uint64) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return units.Clone(e.st.bought[tierUser{tier: tierID, user: user}])
}

func (e *Engine) ParticipatingWalletCountPerTier(tierID uint64) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.participants[tierID]
}

func (e *Engine) TotalParticipatingWallets() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return uint64(len(e.st.wallets))
}

func (e *Engine) TotalTokenAllocationPerTier(tierID uint64) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return units.Clone(e.st.allocation[tierID])
}

func (e *Engine) TokensSoldPerTier(tierID uint64) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return units.Clone(e.st.sold[tierID])
}

// CheckSaleEnded reports whether the tier is closed, sold out or past its end.
func (e *Engine) CheckSaleEnded(tierID uint64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, err := e.tier(tierID)
	if err != nil {
		return false, err
	}
	return e.ended(t, e.unix()), nil
}

// CheckStakeCondition reports whether user's stake at stakeID qualifies for the tier.
func (e *Engine) CheckStakeCondition(user common.Address, tierID, stakeID uint64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, err := e.tier(tierID)
	if err != nil {
		return false, err
	}
	return e.meetsStake(t, user, stakeID), nil
}

// Proceeds returns the withdrawable proceeds per deposit token.
func (e *Engine) Proceeds() map[common.Address]*uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneAmounts(e.st.proceeds)
}

// PoolPosition is a depositor's state in a Pooled tier.
type PoolPosition struct {
	Deposit    *uint256.Int
	Allocation *uint256.Int
	Claimed    bool
}

func (e *Engine) PoolPosition(tierID uint64, user common.Address) PoolPosition {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.st.pools[tierID]
	if p == nil {
		return PoolPosition{Deposit: units.Zero(), Allocation: units.Zero()}
	}
	return PoolPosition{
		Deposit:    units.Clone(p.deposits[user]),
		Allocation: units.Clone(p.allocations[user]),
		Claimed:    p.claimed[user],
	}
}

// PoolTotal is the sum of escrowed deposits of a Pooled tier.
func (e *Engine) PoolTotal(tierID uint64) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p := e.st.pools[tierID]; p != nil {
		return units.Clone(p.total)
	}
	return units.Zero()
}

func sortedAddresses[V any](m map[common.Address]V) []common.Address {
	out := make([]common.Address, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
