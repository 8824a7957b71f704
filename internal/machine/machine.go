// Package machine runs commands against the sale, the locked fund and their collaborators as
// one serialized state machine. Every command either commits in full or leaves no trace.
package machine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Sovryn-Origins/origins/internal/abort"
	"github.com/Sovryn-Origins/origins/internal/command"
	"github.com/Sovryn-Origins/origins/internal/events"
	"github.com/Sovryn-Origins/origins/internal/lockedfund"
	"github.com/Sovryn-Origins/origins/internal/sale"
	"github.com/Sovryn-Origins/origins/internal/token"
	"github.com/Sovryn-Origins/origins/internal/vesting"
)

var ErrRejected = errors.New("machine: command rejected")

type Status string

const (
	StatusApplied  Status = "applied"
	StatusReverted Status = "reverted"
)

// Result is the outcome of one command. Reverted results carry the revert reason and no events.
type Result struct {
	CommandID common.Hash     `json:"commandId"`
	Kind      command.Kind    `json:"kind"`
	Caller    common.Address  `json:"caller"`
	At        uint64          `json:"at"`
	Status    Status          `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Events    []events.Event  `json:"events,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
}

type Options struct {
	// RequireSignatures rejects envelopes not signed by their caller.
	RequireSignatures bool
	Logger            *slog.Logger
}

type Machine struct {
	mu  sync.RWMutex
	log *slog.Logger

	requireSignatures bool

	// at is the execution time of the current or last command. It never decreases.
	at uint64

	tokens     *token.Book
	staking    *vesting.MemoryStaking
	registries *vesting.MemoryDirectory
	vault      *lockedfund.Vault
	sale       *sale.Engine

	applied uint64
	last    common.Hash
}

func New(g Genesis, opts Options) (*Machine, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	m := &Machine{log: log, requireSignatures: opts.RequireSignatures}
	now := func() time.Time { return time.Unix(int64(m.at), 0) }
	nowUnix := func() uint64 { return m.at }

	m.tokens = token.NewBook()
	for _, tg := range g.Tokens {
		t := token.NewMemoryToken(tg.Address, tg.Symbol)
		for holder, amount := range tg.Balances {
			if err := t.Mint(context.Background(), holder, amount.Int()); err != nil {
				return nil, fmt.Errorf("%w: mint %s to %s: %v", ErrInvalidGenesis, tg.Symbol, holder, err)
			}
		}
		m.tokens.Add(t)
	}
	saleToken, ok := m.tokens.Token(g.Sale.Token)
	if !ok {
		return nil, fmt.Errorf("%w: sale token %s is not listed", ErrInvalidGenesis, g.Sale.Token)
	}

	m.staking = vesting.NewMemoryStaking(g.Staking, saleToken)
	m.registries = vesting.NewMemoryDirectory()
	for _, addr := range g.Registries {
		m.registries.Add(vesting.NewMemoryRegistry(addr, saleToken, m.staking, nowUnix, g.Vault.Address))
	}

	admins := append([]common.Address(nil), g.Vault.Admins...)
	if !containsAddress(admins, g.Sale.Address) {
		admins = append(admins, g.Sale.Address)
	}
	vault, err := lockedfund.New(lockedfund.Config{
		Address:         g.Vault.Address,
		WaitedTS:        g.Vault.WaitedTS,
		Token:           g.Sale.Token,
		VestingRegistry: g.Vault.VestingRegistry,
		Admins:          admins,
	}, saleToken, m.registries, now)
	if err != nil {
		return nil, fmt.Errorf("%w: vault: %w", ErrInvalidGenesis, err)
	}
	m.vault = vault

	engine, err := sale.New(sale.Config{
		Address:        g.Sale.Address,
		Owners:         g.Sale.Owners,
		Token:          g.Sale.Token,
		DepositAddress: g.Sale.DepositAddress,
		LockedFund:     g.Vault.Address,
	}, sale.Deps{
		Token:   saleToken,
		Tokens:  m.tokens,
		Ledgers: sale.LedgerMap{vault.Address(): vault},
		Staking: m.staking,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("%w: sale: %w", ErrInvalidGenesis, err)
	}
	m.sale = engine
	return m, nil
}

func containsAddress(list []common.Address, addr common.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}

// Apply runs env at its own timestamp. See ApplyAt.
func (m *Machine) Apply(ctx context.Context, env command.Envelope) (Result, error) {
	return m.ApplyAt(ctx, env, env.At)
}

// ApplyAt runs env to completion with execution time at, raised to the time of the previous
// command if it is earlier so machine time never decreases. Result.At is the time used.
// Structurally invalid or badly signed envelopes are rejected with an error and change
// nothing; every other failure is a revert reported in the Result.
func (m *Machine) ApplyAt(ctx context.Context, env command.Envelope, at uint64) (Result, error) {
	if err := env.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrRejected, err)
	}
	if m.requireSignatures {
		if err := env.VerifySignature(); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrRejected, err)
		}
	}
	id, err := env.ID()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrRejected, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.at = max(m.at, at)
	restores := []func(){
		m.tokens.Checkpoint(),
		m.registries.Checkpoint(),
		m.staking.Checkpoint(),
		m.vault.Checkpoint(),
		m.sale.Checkpoint(),
	}

	res := Result{CommandID: id, Kind: env.Kind, Caller: env.Caller, At: m.at}
	var buf events.Buffer
	out, err := m.dispatch(ctx, &buf, env)
	if err == nil && out != nil {
		res.Output, err = json.Marshal(out)
	}
	if err != nil {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
		res.Status = StatusReverted
		res.Reason = abort.Reason(err)
		if !abort.IsRevert(err) {
			m.log.Warn("command failed outside domain checks", "command_id", id, "kind", env.Kind, "err", err)
		}
		return res, nil
	}

	res.Status = StatusApplied
	res.Events = buf.Events()
	m.applied++
	m.last = id
	return res, nil
}

// State is a read-only view of the machine's components.
type State struct {
	Sale       *sale.Engine
	Vault      *lockedfund.Vault
	Tokens     *token.Book
	Staking    *vesting.MemoryStaking
	Registries *vesting.MemoryDirectory

	// Applied counts applied commands; LastCommandID is the most recent of them.
	Applied       uint64
	LastCommandID common.Hash
	At            uint64
}

// View calls fn with the current state while no command is running. fn must not retain the
// components past its return.
func (m *Machine) View(fn func(State)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(State{
		Sale:          m.sale,
		Vault:         m.vault,
		Tokens:        m.tokens,
		Staking:       m.staking,
		Registries:    m.registries,
		Applied:       m.applied,
		LastCommandID: m.last,
		At:            m.at,
	})
}
