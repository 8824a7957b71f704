package lockedfund

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
	"github.com/Sovryn-Origins/origins/internal/vesting"
)

// Vault is the locked-balance ledger. Operations are serialized by an internal mutex; a
// collaborator call that fails after balances were debited leaves the debit in place, so
// callers that need all-or-nothing semantics restore a Checkpoint taken beforehand.
type Vault struct {
	mu    sync.Mutex
	addr  common.Address
	token token.Token
	dir   vesting.Directory
	now   func() time.Time

	st state
}

type vestingRef struct {
	vesting  common.Address
	registry common.Address
}

type state struct {
	admins   *roster.List
	waitedTS uint64
	registry common.Address

	users     []common.Address
	userIndex map[common.Address]struct{}

	unlocked map[common.Address]*uint256.Int
	waited   map[common.Address]*uint256.Int

	vested          map[common.Address]map[common.Hash]*uint256.Int
	locked          map[common.Address]map[common.Hash]*uint256.Int
	vestedSchedules map[common.Address][]vesting.Schedule
	lockedSchedules map[common.Address][]vesting.Schedule
	vestings        map[common.Address]map[common.Hash]vestingRef
}

// New validates cfg and creates an empty vault. tok must be the token at cfg.Token; dir
// resolves the current and every previously configured vesting registry.
func New(cfg Config, tok token.Token, dir vesting.Directory, now func() time.Time) (*Vault, error) {
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("%w: missing vault address", ErrInvalidConfig)
	}
	if tok == nil || dir == nil {
		return nil, fmt.Errorf("%w: nil token or vesting directory", ErrInvalidConfig)
	}
	if now == nil {
		now = time.Now
	}
	if cfg.WaitedTS == 0 {
		return nil, abort.Invalid(ReasonWaitedTSZero)
	}
	if cfg.Token == (common.Address{}) {
		return nil, abort.Invalid(ReasonInvalidToken)
	}
	if cfg.VestingRegistry == (common.Address{}) {
		return nil, abort.Invalid(ReasonRegistryInvalid)
	}
	if len(cfg.Admins) == 0 {
		return nil, abort.Invalid(ReasonAdminListEmpty)
	}
	if tok.Address() != cfg.Token {
		return nil, fmt.Errorf("%w: %s != %s", ErrTokenMismatch, tok.Address(), cfg.Token)
	}
	admins, err := roster.NewList(AdminMessages, cfg.Admins)
	if err != nil {
		return nil, err
	}

	return &Vault{
		addr:  cfg.Address,
		token: tok,
		dir:   dir,
		now:   now,
		st: state{
			admins:          admins,
			waitedTS:        cfg.WaitedTS,
			registry:        cfg.VestingRegistry,
			userIndex:       make(map[common.Address]struct{}),
			unlocked:        make(map[common.Address]*uint256.Int),
			waited:          make(map[common.Address]*uint256.Int),
			vested:          make(map[common.Address]map[common.Hash]*uint256.Int),
			locked:          make(map[common.Address]map[common.Hash]*uint256.Int),
			vestedSchedules: make(map[common.Address][]vesting.Schedule),
			lockedSchedules: make(map[common.Address][]vesting.Schedule),
			vestings:        make(map[common.Address]map[common.Hash]vestingRef),
		},
	}, nil
}

func (v *Vault) Address() common.Address { return v.addr }

func (v *Vault) AddAdmin(sink events.Sink, caller, admin common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.st.admins.Require(caller); err != nil {
		return err
	}
	if err := v.st.admins.Add(admin); err != nil {
		return err
	}
	sink.Emit(events.New(v.addr, "AdminAdded",
		events.IndexedAddress("_initiator", caller),
		events.IndexedAddress("_newAdmin", admin)))
	return nil
}

func (v *Vault) RemoveAdmin(sink events.Sink, caller, admin common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.st.admins.Require(caller); err != nil {
		return err
	}
	if err := v.st.admins.Remove(admin); err != nil {
		return err
	}
	sink.Emit(events.New(v.addr, "AdminRemoved",
		events.IndexedAddress("_initiator", caller),
		events.IndexedAddress("_removedAdmin", admin)))
	return nil
}

// ChangeVestingRegistry affects vestings created from now on. Existing vesting instances
// keep the registry they were created by.
func (v *Vault) ChangeVestingRegistry(sink events.Sink, caller, registry common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.st.admins.Require(caller); err != nil {
		return err
	}
	if registry == (common.Address{}) {
		return abort.Invalid(ReasonRegistryInvalid)
	}
	v.st.registry = registry
	sink.Emit(events.New(v.addr, "VestingRegistryUpdated",
		events.IndexedAddress("_initiator", caller),
		events.IndexedAddress("_vestingRegistry", registry)))
	return nil
}

func (v *Vault) ChangeWaitedTS(sink events.Sink, caller common.Address, ts uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.st.admins.Require(caller); err != nil {
		return err
	}
	if ts == 0 {
		return abort.Invalid(ReasonWaitedTSZero)
	}
	v.st.waitedTS = ts
	sink.Emit(events.New(v.addr, "WaitedTSUpdated",
		events.IndexedAddress("_initiator", caller),
		events.Uint("_waitedTS", ts)))
	return nil
}

func (v *Vault) WaitedTS() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.waitedTS
}

func (v *Vault) Token() common.Address { return v.token.Address() }

func (v *Vault) VestingRegistry() common.Address {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.registry
}

func (v *Vault) AdminStatus(addr common.Address) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.admins.Has(addr)
}

func (v *Vault) Admins() []common.Address {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.admins.Members()
}

// VestingData returns the key balances of the (cliff, duration) schedule are stored under.
func VestingData(cliffPeriods, durationPeriods uint64) (common.Hash, error) {
	s, err := vesting.FromPeriods(cliffPeriods, durationPeriods)
	if err != nil {
		return common.Hash{}, err
	}
	return s.Key(), nil
}

// UserVestings returns the keys of the user's vested schedules in creation order.
func (v *Vault) UserVestings(user common.Address) []common.Hash {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]common.Hash, 0, len(v.st.vestedSchedules[user]))
	for _, s := range v.st.vestedSchedules[user] {
		out = append(out, s.Key())
	}
	return out
}

func (v *Vault) VestedBalance(user common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return sumOf(v.st.vested[user])
}

func (v *Vault) LockedBalance(user common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return sumOf(v.st.locked[user])
}

// VestedBalanceOf returns the vested balance of one schedule.
func (v *Vault) VestedBalanceOf(user common.Address, cliffPeriods, durationPeriods uint64) (*uint256.Int, error) {
	key, err := VestingData(cliffPeriods, durationPeriods)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return units.Clone(v.st.vested[user][key]), nil
}

func (v *Vault) LockedBalanceOf(user common.Address, cliffPeriods, durationPeriods uint64) (*uint256.Int, error) {
	key, err := VestingData(cliffPeriods, durationPeriods)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return units.Clone(v.st.locked[user][key]), nil
}

func (v *Vault) WaitedUnlockedBalance(user common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return units.Clone(v.st.waited[user])
}

func (v *Vault) UnlockedBalance(user common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return units.Clone(v.st.unlocked[user])
}

// VestingOf returns the vesting instance recorded for the user's schedule, or the zero address.
func (v *Vault) VestingOf(user common.Address, cliffPeriods, durationPeriods uint64) (common.Address, error) {
	key, err := VestingData(cliffPeriods, durationPeriods)
	if err != nil {
		return common.Address{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.vestings[user][key].vesting, nil
}

// Users returns every address that ever received a deposit, in first-deposit order.
func (v *Vault) Users() []common.Address {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]common.Address, len(v.st.users))
	copy(out, v.st.users)
	return out
}

func (v *Vault) Balances(user common.Address) Balances {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.st.balances(user)
}

// Outstanding is the sum of every bucket of every user. It equals the vault's token balance
// unless tokens were sent to the vault outside of a deposit.
func (v *Vault) Outstanding() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()

	total := units.Zero()
	for _, u := range v.st.users {
		b := v.st.balances(u)
		for _, x := range []*uint256.Int{b.Vested, b.Locked, b.WaitedUnlocked, b.Unlocked} {
			total.Add(total, x)
		}
	}
	return total
}

// Checkpoint snapshots the vault; the returned func restores it.
func (v *Vault) Checkpoint() func() {
	v.mu.Lock()
	saved := v.st.clone()
	v.mu.Unlock()
	return func() {
		v.mu.Lock()
		v.st = saved
		v.mu.Unlock()
	}
}

func (s *state) balances(user common.Address) Balances {
	b := Balances{
		User:           user,
		Vested:         sumOf(s.vested[user]),
		Locked:         sumOf(s.locked[user]),
		WaitedUnlocked: units.Clone(s.waited[user]),
		Unlocked:       units.Clone(s.unlocked[user]),
	}
	for _, sch := range s.vestedSchedules[user] {
		k := sch.Key()
		ref := s.vestings[user][k]
		b.VestedSchedules = append(b.VestedSchedules, ScheduleBalance{
			Key:      k,
			Schedule: sch,
			Amount:   units.Clone(s.vested[user][k]),
			Vesting:  ref.vesting,
			Registry: ref.registry,
		})
	}
	for _, sch := range s.lockedSchedules[user] {
		k := sch.Key()
		b.LockedSchedules = append(b.LockedSchedules, ScheduleBalance{
			Key:      k,
			Schedule: sch,
			Amount:   units.Clone(s.locked[user][k]),
		})
	}
	return b
}

func (s *state) touch(user common.Address) {
	if _, ok := s.userIndex[user]; ok {
		return
	}
	s.userIndex[user] = struct{}{}
	s.users = append(s.users, user)
}

func (s *state) clone() state {
	out := state{
		admins:          s.admins.Clone(),
		waitedTS:        s.waitedTS,
		registry:        s.registry,
		users:           append([]common.Address(nil), s.users...),
		userIndex:       make(map[common.Address]struct{}, len(s.userIndex)),
		unlocked:        cloneAmounts(s.unlocked),
		waited:          cloneAmounts(s.waited),
		vested:          make(map[common.Address]map[common.Hash]*uint256.Int, len(s.vested)),
		locked:          make(map[common.Address]map[common.Hash]*uint256.Int, len(s.locked)),
		vestedSchedules: make(map[common.Address][]vesting.Schedule, len(s.vestedSchedules)),
		lockedSchedules: make(map[common.Address][]vesting.Schedule, len(s.lockedSchedules)),
		vestings:        make(map[common.Address]map[common.Hash]vestingRef, len(s.vestings)),
	}
	for k := range s.userIndex {
		out.userIndex[k] = struct{}{}
	}
	for k, m := range s.vested {
		out.vested[k] = cloneAmounts(m)
	}
	for k, m := range s.locked {
		out.locked[k] = cloneAmounts(m)
	}
	for k, l := range s.vestedSchedules {
		out.vestedSchedules[k] = append([]vesting.Schedule(nil), l...)
	}
	for k, l := range s.lockedSchedules {
		out.lockedSchedules[k] = append([]vesting.Schedule(nil), l...)
	}
	for k, m := range s.vestings {
		cm := make(map[common.Hash]vestingRef, len(m))
		for h, r := range m {
			cm[h] = r
		}
		out.vestings[k] = cm
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

func sumOf(m map[common.Hash]*uint256.Int) *uint256.Int {
	total := units.Zero()
	for _, v := range m {
		total.Add(total, v)
	}
	return total
}
