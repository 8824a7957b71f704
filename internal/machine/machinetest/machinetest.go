// Package machinetest provides a small deployment for tests of packages built on the machine.
package machinetest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Sovryn-Origins/origins/internal/command"
	"github.com/Sovryn-Origins/origins/internal/machine"
	"github.com/Sovryn-Origins/origins/internal/sale"
	"github.com/Sovryn-Origins/origins/internal/token"
	"github.com/Sovryn-Origins/origins/internal/units"
)

var (
	Sale     = common.HexToAddress("0x0000000000000000000000000000000000005a1e")
	Vault    = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	OG       = common.HexToAddress("0x000000000000000000000000000000000000700c")
	Staking  = common.HexToAddress("0x0000000000000000000000000000000000005a4e")
	Registry = common.HexToAddress("0x000000000000000000000000000000000000fac1")
	Owner    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	Alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	Bob      = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

const Start = uint64(1_700_000_000)

func Amount(v uint64) *command.Amount { return command.NewAmount(units.New(v)) }

// Genesis deploys the sale over OG, funds Alice and Bob with native coin and the owner with OG.
func Genesis() machine.Genesis {
	return machine.Genesis{
		Sale:       machine.SaleGenesis{Address: Sale, Owners: []common.Address{Owner}, Token: OG},
		Vault:      machine.VaultGenesis{Address: Vault, WaitedTS: Start + 7*86400, Admins: []common.Address{Owner}, VestingRegistry: Registry},
		Staking:    Staking,
		Registries: []common.Address{Registry},
		Tokens: []machine.TokenGenesis{
			{Address: token.NativeAddress, Symbol: "RBTC", Balances: map[common.Address]*command.Amount{Alice: Amount(1_000_000), Bob: Amount(1_000_000)}},
			{Address: OG, Symbol: "OG", Balances: map[common.Address]*command.Amount{Owner: Amount(10_000_000)}},
		},
	}
}

func New(t testing.TB) *machine.Machine {
	t.Helper()
	m, err := machine.New(Genesis(), machine.Options{})
	if err != nil {
		t.Fatalf("machine.New: %v", err)
	}
	return m
}

// Envelope builds an unsigned envelope.
func Envelope(t testing.TB, kind command.Kind, caller common.Address, at uint64, nonce uint64, args any) command.Envelope {
	t.Helper()
	env, err := command.New(kind, caller, at, nonce, args)
	if err != nil {
		t.Fatalf("command.New(%s): %v", kind, err)
	}
	return env
}

// MustApply applies and requires the command to commit.
func MustApply(t testing.TB, m *machine.Machine, env command.Envelope) machine.Result {
	t.Helper()
	res, err := m.Apply(context.Background(), env)
	if err != nil {
		t.Fatalf("Apply(%s): %v", env.Kind, err)
	}
	if res.Status != machine.StatusApplied {
		t.Fatalf("%s reverted: %s", env.Kind, res.Reason)
	}
	return res
}

// VestedTier is an FCFS tier open to everyone: 100 OG per native unit, half unlocked, the
// rest vested over one cliff period and eleven periods total.
func VestedTier() command.CreateTierArgs {
	return command.CreateTierArgs{
		MaxAmount:       Amount(50_000),
		RemainingTokens: Amount(6_000_000),
		SaleStartTS:     Start,
		SaleEnd:         86400,
		UnlockedBP:      5000,
		CliffPeriods:    1,
		DurationPeriods: 11,
		DepositRate:     Amount(100),
		DepositType:     sale.DepositNative,
		Verification:    sale.VerifyEveryone,
		SaleEndMode:     sale.EndDuration,
		TransferType:    sale.TransferVested,
	}
}

// Setup returns the envelopes that fund the sale and create VestedTier as tier 1.
func Setup(t testing.TB) []command.Envelope {
	t.Helper()
	args := VestedTier()
	return []command.Envelope{
		Envelope(t, command.KindApprove, Owner, Start, 1, command.TokenArgs{Token: OG, To: Sale, Amount: args.RemainingTokens}),
		Envelope(t, command.KindCreateTier, Owner, Start, 2, args),
	}
}

// Buy is a native purchase of tier 1.
func Buy(t testing.TB, buyer common.Address, at uint64, nonce uint64, value uint64) command.Envelope {
	t.Helper()
	env := Envelope(t, command.KindBuy, buyer, at, nonce, command.BuyArgs{TierID: 1, Amount: Amount(value)})
	env.Value = Amount(value)
	return env
}

// TierID decodes the output of a createTier result.
func TierID(t testing.TB, res machine.Result) uint64 {
	t.Helper()
	var out machine.TierOutput
	if err := json.Unmarshal(res.Output, &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	return out.TierID
}
