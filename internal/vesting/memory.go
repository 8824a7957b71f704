package vesting

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/Sovryn-Origins/origins/internal/abort"
	"github.com/Sovryn-Origins/origins/internal/token"
	"github.com/Sovryn-Origins/origins/internal/units"
)

const (
	reasonRegistryUnauthorized = "VestingRegistry: unauthorized"
	reasonUnknownVesting       = "VestingRegistry: unknown vesting"
	reasonStakeZero            = "Staking: amount of tokens to stake needs to be bigger than 0"
)

// Instance is one vesting contract created by a registry.
type Instance struct {
	Address   common.Address
	Owner     common.Address
	Schedule  Schedule
	CreatedAt uint64
	Staked    *uint256.Int
}

// MemoryRegistry is an in-memory vesting registry/factory.
type MemoryRegistry struct {
	mu      sync.Mutex
	addr    common.Address
	token   token.Token
	staking Staking
	now     func() uint64
	st      registryState
}

type registryState struct {
	admins    map[common.Address]bool
	nonce     uint64
	byUser    map[registryKey]common.Address
	instances map[common.Address]Instance
}

type registryKey struct {
	user common.Address
	key  common.Hash
}

// NewMemoryRegistry creates a registry whose vesting instances stake tok through staking.
// now supplies the current unix time.
func NewMemoryRegistry(addr common.Address, tok token.Token, staking Staking, now func() uint64, admins ...common.Address) *MemoryRegistry {
	st := registryState{
		admins:    make(map[common.Address]bool, len(admins)),
		byUser:    make(map[registryKey]common.Address),
		instances: make(map[common.Address]Instance),
	}
	for _, a := range admins {
		st.admins[a] = true
	}
	return &MemoryRegistry{addr: addr, token: tok, staking: staking, now: now, st: st}
}

func (r *MemoryRegistry) Address() common.Address { return r.addr }

// AddAdmin authorizes caller to create vestings and stake through them.
func (r *MemoryRegistry) AddAdmin(admin common.Address) {
	r.mu.Lock()
	r.st.admins[admin] = true
	r.mu.Unlock()
}

func (r *MemoryRegistry) GetVesting(_ context.Context, user common.Address, s Schedule) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.byUser[registryKey{user: user, key: s.Key()}], nil
}

func (r *MemoryRegistry) CreateVesting(_ context.Context, caller, user common.Address, s Schedule) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.st.admins[caller] {
		return common.Address{}, abort.Unauthorized(reasonRegistryUnauthorized)
	}
	k := registryKey{user: user, key: s.Key()}
	if addr, ok := r.st.byUser[k]; ok {
		return addr, nil
	}
	addr := crypto.CreateAddress(r.addr, r.st.nonce)
	r.st.nonce++
	r.st.byUser[k] = addr
	r.st.instances[addr] = Instance{
		Address:   addr,
		Owner:     user,
		Schedule:  s,
		CreatedAt: r.now(),
		Staked:    units.Zero(),
	}
	return addr, nil
}

func (r *MemoryRegistry) StakeTokens(ctx context.Context, caller, vesting common.Address, amount *uint256.Int) error {
	r.mu.Lock()
	if !r.st.admins[caller] {
		r.mu.Unlock()
		return abort.Unauthorized(reasonRegistryUnauthorized)
	}
	inst, ok := r.st.instances[vesting]
	if !ok {
		r.mu.Unlock()
		return abort.Precondition(reasonUnknownVesting)
	}
	staked, err := units.Add(inst.Staked, amount)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	inst.Staked = staked
	r.st.instances[vesting] = inst
	r.mu.Unlock()

	until := inst.CreatedAt + inst.Schedule.Duration
	return r.staking.Stake(ctx, vesting, inst.Owner, amount, until)
}

// Instance returns the vesting instance at addr.
func (r *MemoryRegistry) Instance(addr common.Address) (Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.st.instances[addr]
	if ok {
		inst.Staked = units.Clone(inst.Staked)
	}
	return inst, ok
}

func (r *MemoryRegistry) Checkpoint() func() {
	r.mu.Lock()
	saved := r.st.clone()
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.st = saved
		r.mu.Unlock()
	}
}

func (s registryState) clone() registryState {
	out := registryState{
		admins:    make(map[common.Address]bool, len(s.admins)),
		nonce:     s.nonce,
		byUser:    make(map[registryKey]common.Address, len(s.byUser)),
		instances: make(map[common.Address]Instance, len(s.instances)),
	}
	for k, v := range s.admins {
		out.admins[k] = v
	}
	for k, v := range s.byUser {
		out.byUser[k] = v
	}
	for k, v := range s.instances {
		v.Staked = units.Clone(v.Staked)
		out.instances[k] = v
	}
	return out
}

// MemoryDirectory resolves memory registries by address.
type MemoryDirectory struct {
	mu         sync.RWMutex
	registries map[common.Address]*MemoryRegistry
}

func NewMemoryDirectory(registries ...*MemoryRegistry) *MemoryDirectory {
	d := &MemoryDirectory{registries: make(map[common.Address]*MemoryRegistry, len(registries))}
	for _, r := range registries {
		d.registries[r.Address()] = r
	}
	return d
}

func (d *MemoryDirectory) Add(r *MemoryRegistry) {
	d.mu.Lock()
	d.registries[r.Address()] = r
	d.mu.Unlock()
}

func (d *MemoryDirectory) Registry(addr common.Address) (Registry, bool) {
	r, ok := d.Memory(addr)
	if !ok {
		return nil, false
	}
	return r, true
}

func (d *MemoryDirectory) Memory(addr common.Address) (*MemoryRegistry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.registries[addr]
	return r, ok
}

// Checkpoint snapshots every registry in the directory.
func (d *MemoryDirectory) Checkpoint() func() {
	d.mu.RLock()
	restores := make([]func(), 0, len(d.registries))
	for _, r := range d.registries {
		restores = append(restores, r.Checkpoint())
	}
	d.mu.RUnlock()
	return func() {
		for _, r := range restores {
			r()
		}
	}
}

// MemoryStaking is an in-memory staking contract. Stakes are keyed by owner and lock date.
type MemoryStaking struct {
	mu    sync.Mutex
	addr  common.Address
	token token.Token
	st    stakingState
}

type stakingState struct {
	stakes map[common.Address]map[uint64]*uint256.Int
}

func NewMemoryStaking(addr common.Address, tok token.Token) *MemoryStaking {
	return &MemoryStaking{
		addr:  addr,
		token: tok,
		st:    stakingState{stakes: make(map[common.Address]map[uint64]*uint256.Int)},
	}
}

func (s *MemoryStaking) Address() common.Address { return s.addr }

// Stake pulls amount from payer and books it for owner until the given lock date.
func (s *MemoryStaking) Stake(ctx context.Context, payer, owner common.Address, amount *uint256.Int, until uint64) error {
	if units.IsZero(amount) {
		return abort.Invalid(reasonStakeZero)
	}
	s.mu.Lock()
	cur := s.st.stakes[owner][until]
	next, err := units.Add(cur, amount)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := s.token.Transfer(ctx, payer, s.addr, amount); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.st.stakes[owner]
	if !ok {
		m = make(map[uint64]*uint256.Int)
		s.st.stakes[owner] = m
	}
	m[until] = next
	return nil
}

func (s *MemoryStaking) StakeOf(owner common.Address, stakeID uint64) *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stakeID != 0 {
		return units.Clone(s.st.stakes[owner][stakeID])
	}
	total := units.Zero()
	for _, v := range s.st.stakes[owner] {
		total.Add(total, v)
	}
	return total
}

// LockDates returns the owner's stake lock dates, ascending.
func (s *MemoryStaking) LockDates(owner common.Address) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, 0, len(s.st.stakes[owner]))
	for d := range s.st.stakes[owner] {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *MemoryStaking) Checkpoint() func() {
	s.mu.Lock()
	saved := stakingState{stakes: make(map[common.Address]map[uint64]*uint256.Int, len(s.st.stakes))}
	for owner, m := range s.st.stakes {
		cm := make(map[uint64]*uint256.Int, len(m))
		for k, v := range m {
			cm[k] = units.Clone(v)
		}
		saved.stakes[owner] = cm
	}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.st = saved
		s.mu.Unlock()
	}
}
