package token

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Sovryn-Origins/origins/internal/abort"
	"github.com/Sovryn-Origins/origins/internal/units"
)

const (
	reasonInsufficientBalance   = "Token: transfer amount exceeds balance."
	reasonInsufficientAllowance = "Token: transfer amount exceeds allowance."
	reasonZeroRecipient         = "Token: transfer to the zero address."
	reasonZeroOwner             = "Token: approve from the zero address."
)

// MemoryToken is an in-memory token book. It is safe for concurrent use.
type MemoryToken struct {
	mu     sync.Mutex
	addr   common.Address
	symbol string
	st     memoryState
}

type memoryState struct {
	supply     *uint256.Int
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
}

func NewMemoryToken(addr common.Address, symbol string) *MemoryToken {
	return &MemoryToken{
		addr:   addr,
		symbol: symbol,
		st: memoryState{
			supply:     units.Zero(),
			balances:   make(map[common.Address]*uint256.Int),
			allowances: make(map[common.Address]map[common.Address]*uint256.Int),
		},
	}
}

func (t *MemoryToken) Address() common.Address { return t.addr }

func (t *MemoryToken) Symbol() string { return t.symbol }

func (t *MemoryToken) TotalSupply() *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return units.Clone(t.st.supply)
}

func (t *MemoryToken) BalanceOf(owner common.Address) *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return units.Clone(t.st.balances[owner])
}

func (t *MemoryToken) Allowance(owner, spender common.Address) *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return units.Clone(t.st.allowances[owner][spender])
}

// Holders returns every address with a non-zero balance, sorted.
func (t *MemoryToken) Holders() []common.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]common.Address, 0, len(t.st.balances))
	for addr, bal := range t.st.balances {
		if !bal.IsZero() {
			out = append(out, addr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Mint credits new supply to to.
func (t *MemoryToken) Mint(_ context.Context, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	supply, err := units.Add(t.st.supply, amount)
	if err != nil {
		return err
	}
	bal, err := units.Add(t.st.balances[to], amount)
	if err != nil {
		return err
	}
	t.st.supply = supply
	t.st.balances[to] = bal
	return nil
}

func (t *MemoryToken) Transfer(_ context.Context, sender, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(sender, to, amount)
}

func (t *MemoryToken) TransferFrom(_ context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := units.Clone(t.st.allowances[from][spender])
	if allowed.Lt(units.Clone(amount)) {
		return abort.Transfer(reasonInsufficientAllowance)
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	if m := t.st.allowances[from]; m != nil {
		rest, _ := units.Sub(allowed, amount)
		m[spender] = rest
	}
	return nil
}

func (t *MemoryToken) Approve(_ context.Context, owner, spender common.Address, amount *uint256.Int) error {
	if owner == (common.Address{}) {
		return abort.Transfer(reasonZeroOwner)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.st.allowances[owner]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		t.st.allowances[owner] = m
	}
	m[spender] = units.Clone(amount)
	return nil
}

// move validates both legs before mutating either.
func (t *MemoryToken) move(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return abort.Transfer(reasonZeroRecipient)
	}
	if units.IsZero(amount) {
		return nil
	}
	fromBal, err := units.Sub(t.st.balances[from], amount)
	if err != nil {
		return abort.Transfer(reasonInsufficientBalance)
	}
	if from == to {
		return nil
	}
	toBal, err := units.Add(t.st.balances[to], amount)
	if err != nil {
		return err
	}
	t.st.balances[from] = fromBal
	t.st.balances[to] = toBal
	return nil
}

// Checkpoint snapshots the token book; calling the returned func restores it.
func (t *MemoryToken) Checkpoint() func() {
	t.mu.Lock()
	saved := t.st.clone()
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		t.st = saved
		t.mu.Unlock()
	}
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		supply:     units.Clone(s.supply),
		balances:   make(map[common.Address]*uint256.Int, len(s.balances)),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int, len(s.allowances)),
	}
	for k, v := range s.balances {
		out.balances[k] = units.Clone(v)
	}
	for owner, m := range s.allowances {
		cm := make(map[common.Address]*uint256.Int, len(m))
		for spender, v := range m {
			cm[spender] = units.Clone(v)
		}
		out.allowances[owner] = cm
	}
	return out
}

// Book is a set of memory tokens addressable by contract address.
type Book struct {
	mu     sync.RWMutex
	tokens map[common.Address]*MemoryToken
}

func NewBook(tokens ...*MemoryToken) *Book {
	b := &Book{tokens: make(map[common.Address]*MemoryToken, len(tokens))}
	for _, t := range tokens {
		b.tokens[t.Address()] = t
	}
	return b
}

func (b *Book) Add(t *MemoryToken) {
	b.mu.Lock()
	b.tokens[t.Address()] = t
	b.mu.Unlock()
}

func (b *Book) Token(addr common.Address) (Token, bool) {
	t, ok := b.Memory(addr)
	if !ok {
		return nil, false
	}
	return t, true
}

func (b *Book) Memory(addr common.Address) (*MemoryToken, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tokens[addr]
	return t, ok
}

// Addresses returns the registered token addresses, sorted.
func (b *Book) Addresses() []common.Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]common.Address, 0, len(b.tokens))
	for addr := range b.tokens {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Checkpoint snapshots every token in the book.
func (b *Book) Checkpoint() func() {
	b.mu.RLock()
	restores := make([]func(), 0, len(b.tokens))
	for _, t := range b.tokens {
		restores = append(restores, t.Checkpoint())
	}
	b.mu.RUnlock()
	return func() {
		for _, r := range restores {
			r()
		}
	}
}
