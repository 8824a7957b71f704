package sale

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Sovryn-Origins/origins/internal/abort"
	"github.com/Sovryn-Origins/origins/internal/events"
	"github.com/Sovryn-Origins/origins/internal/roster"
	"github.com/Sovryn-Origins/origins/internal/token"
	"github.com/Sovryn-Origins/origins/internal/units"
)

// Engine is the sale. Operations are serialized by an internal mutex. A collaborator call that
// fails midway leaves earlier writes in place; callers needing all-or-nothing semantics
// restore a Checkpoint.
type Engine struct {
	mu      sync.Mutex
	addr    common.Address
	token   token.Token
	tokens  token.Resolver
	ledgers Ledgers
	staking StakeReader
	now     func() time.Time

	st state
}

type tierUser struct {
	tier uint64
	user common.Address
}

type state struct {
	roster         *roster.Roster
	depositAddress common.Address
	lockedFund     common.Address

	tiers        []Tier
	approved     map[tierUser]bool
	bought       map[tierUser]*uint256.Int
	participants map[uint64]uint64
	wallets      map[common.Address]struct{}
	allocation   map[uint64]*uint256.Int
	sold         map[uint64]*uint256.Int
	proceeds     map[common.Address]*uint256.Int
	pools        map[uint64]*pool
}

// pool escrows the deposits of a Pooled tier until it is closed and claimed.
type pool struct {
	token       common.Address
	total       *uint256.Int
	depositors  []common.Address
	deposits    map[common.Address]*uint256.Int
	allocations map[common.Address]*uint256.Int
	claimed     map[common.Address]bool
}

// Deps are the engine's collaborators. Tokens must resolve every deposit token, including the
// native currency at token.NativeAddress. Staking may be nil when no tier verifies by stake.
type Deps struct {
	Token   token.Token
	Tokens  token.Resolver
	Ledgers Ledgers
	Staking StakeReader
}

func New(cfg Config, deps Deps, now func() time.Time) (*Engine, error) {
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("%w: missing sale address", ErrInvalidConfig)
	}
	if deps.Token == nil || deps.Tokens == nil || deps.Ledgers == nil {
		return nil, fmt.Errorf("%w: missing collaborator", ErrInvalidConfig)
	}
	if now == nil {
		now = time.Now
	}
	if cfg.Token == (common.Address{}) {
		return nil, abort.Invalid(ReasonTokenZero)
	}
	if deps.Token.Address() != cfg.Token {
		return nil, fmt.Errorf("%w: token %s does not match %s", ErrInvalidConfig, deps.Token.Address(), cfg.Token)
	}
	r, err := roster.New(cfg.Address, cfg.Owners)
	if err != nil {
		return nil, err
	}

	return &Engine{
		addr:    cfg.Address,
		token:   deps.Token,
		tokens:  deps.Tokens,
		ledgers: deps.Ledgers,
		staking: deps.Staking,
		now:     now,
		st: state{
			roster:         r,
			depositAddress: cfg.DepositAddress,
			lockedFund:     cfg.LockedFund,
			approved:       make(map[tierUser]bool),
			bought:         make(map[tierUser]*uint256.Int),
			participants:   make(map[uint64]uint64),
			wallets:        make(map[common.Address]struct{}),
			allocation:     make(map[uint64]*uint256.Int),
			sold:           make(map[uint64]*uint256.Int),
			proceeds:       make(map[common.Address]*uint256.Int),
			pools:          make(map[uint64]*pool),
		},
	}, nil
}

func (e *Engine) Address() common.Address { return e.addr }

func (e *Engine) unix() uint64 { return uint64(e.now().Unix()) }

// tier returns a pointer into state; callers hold e.mu.
func (e *Engine) tier(id uint64) (*Tier, error) {
	if id == 0 || id > uint64(len(e.st.tiers)) {
		return nil, abort.Invalid(ReasonInvalidTier)
	}
	return &e.st.tiers[id-1], nil
}

func (e *Engine) AddOwner(sink events.Sink, caller, addr common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.roster.AddOwner(sink, caller, addr)
}

func (e *Engine) RemoveOwner(sink events.Sink, caller, addr common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.roster.RemoveOwner(sink, caller, addr)
}

func (e *Engine) AddVerifier(sink events.Sink, caller, addr common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.roster.AddVerifier(sink, caller, addr)
}

func (e *Engine) RemoveVerifier(sink events.Sink, caller, addr common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.roster.RemoveVerifier(sink, caller, addr)
}

func (e *Engine) SetDepositAddress(sink events.Sink, caller, addr common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.st.roster.OnlyOwner(caller); err != nil {
		return err
	}
	if addr == (common.Address{}) {
		return abort.Invalid(ReasonDepositAddressZero)
	}
	e.st.depositAddress = addr
	sink.Emit(events.New(e.addr, "DepositAddressUpdated",
		events.IndexedAddress("_initiator", caller),
		events.Address("_newDepositAddress", addr)))
	return nil
}

func (e *Engine) SetLockedFund(sink events.Sink, caller, addr common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.st.roster.OnlyOwner(caller); err != nil {
		return err
	}
	if addr == (common.Address{}) {
		return abort.Invalid(ReasonLockedFundZero)
	}
	e.st.lockedFund = addr
	sink.Emit(events.New(e.addr, "LockedFundUpdated",
		events.IndexedAddress("_initiator", caller),
		events.Address("_newLockedFund", addr)))
	return nil
}

// AddressVerification approves user for tierID.
func (e *Engine) AddressVerification(sink events.Sink, caller, user common.Address, tierID uint64) error {
	return e.verify(sink, caller, []common.Address{user}, []uint64{tierID})
}

func (e *Engine) SingleAddressMultipleTierVerification(sink events.Sink, caller, user common.Address, tierIDs []uint64) error {
	users := make([]common.Address, len(tierIDs))
	for i := range users {
		users[i] = user
	}
	return e.verify(sink, caller, users, tierIDs)
}

func (e *Engine) MultipleAddressSingleTierVerification(sink events.Sink, caller common.Address, users []common.Address, tierID uint64) error {
	tiers := make([]uint64, len(users))
	for i := range tiers {
		tiers[i] = tierID
	}
	return e.verify(sink, caller, users, tiers)
}

func (e *Engine) MultipleAddressAndTierVerification(sink events.Sink, caller common.Address, users []common.Address, tierIDs []uint64) error {
	if len(users) != len(tierIDs) {
		return abort.Invalid(ReasonLengthMismatch)
	}
	return e.verify(sink, caller, users, tierIDs)
}

func (e *Engine) verify(sink events.Sink, caller common.Address, users []common.Address, tierIDs []uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.st.roster.OnlyVerifier(caller); err != nil {
		return err
	}
	for i, u := range users {
		if u == (common.Address{}) {
			return abort.Invalid(ReasonVerifyZero)
		}
		if _, err := e.tier(tierIDs[i]); err != nil {
			return err
		}
	}
	for i, u := range users {
		e.st.approved[tierUser{tier: tierIDs[i], user: u}] = true
		sink.Emit(events.New(e.addr, "AddressVerified",
			events.IndexedAddress("_initiator", caller),
			events.IndexedAddress("_verifiedAddress", u),
			events.Uint("_tierID", tierIDs[i])))
	}
	return nil
}

// Checkpoint snapshots the engine; the returned func restores it.
func (e *Engine) Checkpoint() func() {
	e.mu.Lock()
	saved := e.st.clone()
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		e.st = saved
		e.mu.Unlock()
	}
}

func (s *state) clone() state {
	out := state{
		roster:         s.roster.Clone(),
		depositAddress: s.depositAddress,
		lockedFund:     s.lockedFund,
		tiers:          make([]Tier, len(s.tiers)),
		approved:       make(map[tierUser]bool, len(s.approved)),
		bought:         make(map[tierUser]*uint256.Int, len(s.bought)),
		participants:   make(map[uint64]uint64, len(s.participants)),
		wallets:        make(map[common.Address]struct{}, len(s.wallets)),
		allocation:     cloneAmounts(s.allocation),
		sold:           cloneAmounts(s.sold),
		proceeds:       cloneAmounts(s.proceeds),
		pools:          make(map[uint64]*pool, len(s.pools)),
	}
	for i, t := range s.tiers {
		out.tiers[i] = t.clone()
	}
	for k, v := range s.approved {
		out.approved[k] = v
	}
	for k, v := range s.bought {
		out.bought[k] = units.Clone(v)
	}
	for k, v := range s.participants {
		out.participants[k] = v
	}
	for k := range s.wallets {
		out.wallets[k] = struct{}{}
	}
	for k, p := range s.pools {
		out.pools[k] = p.clone()
	}
	return out
}

func newPool(tok common.Address) *pool {
	return &pool{
		token:       tok,
		total:       units.Zero(),
		deposits:    make(map[common.Address]*uint256.Int),
		allocations: make(map[common.Address]*uint256.Int),
		claimed:     make(map[common.Address]bool),
	}
}

func (p *pool) clone() *pool {
	out := &pool{
		token:       p.token,
		total:       units.Clone(p.total),
		depositors:  append([]common.Address(nil), p.depositors...),
		deposits:    cloneAmounts(p.deposits),
		allocations: cloneAmounts(p.allocations),
		claimed:     make(map[common.Address]bool, len(p.claimed)),
	}
	for k, v := range p.claimed {
		out.claimed[k] = v
	}
	return out
}

func cloneAmounts[K comparable](m map[K]*uint256.Int) map[K]*uint256.Int {
	out := make(map[K]*uint256.Int, len(m))
	for k, v := range m {
		out[k] = units.Clone(v)
	}
	return out
}
