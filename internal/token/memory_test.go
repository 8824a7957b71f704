package token

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Sovryn-Origins/origins/internal/abort"
	"github.com/Sovryn-Origins/origins/internal/units"
)

var (
	tokenAddr = common.HexToAddress("0x000000000000000000000000000000000000700c")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol     = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func TestMemoryToken_TransferAndAllowance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tok := NewMemoryToken(tokenAddr, "OG")
	if err := tok.Mint(ctx, alice, units.New(100)); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if err := tok.Transfer(ctx, alice, bob, units.New(30)); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got := tok.BalanceOf(alice).Uint64(); got != 70 {
		t.Fatalf("alice: got %d want 70", got)
	}

	err := tok.Transfer(ctx, bob, alice, units.New(31))
	if !errors.Is(err, abort.ErrTransfer) {
		t.Fatalf("expected ErrTransfer, got %v", err)
	}
	if got := tok.BalanceOf(bob).Uint64(); got != 30 {
		t.Fatalf("failed transfer mutated bob: got %d", got)
	}

	if err := tok.TransferFrom(ctx, carol, alice, carol, units.New(1)); abort.Reason(err) != reasonInsufficientAllowance {
		t.Fatalf("expected allowance revert, got %v", err)
	}
	if err := tok.Approve(ctx, alice, carol, units.New(50)); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if err := tok.TransferFrom(ctx, carol, alice, carol, units.New(20)); err != nil {
		t.Fatalf("TransferFrom: %v", err)
	}
	if got := tok.Allowance(alice, carol).Uint64(); got != 30 {
		t.Fatalf("allowance: got %d want 30", got)
	}
	if got := tok.TotalSupply().Uint64(); got != 100 {
		t.Fatalf("supply: got %d want 100", got)
	}
	if err := tok.TransferFrom(ctx, carol, bob, carol, units.Zero()); err != nil {
		t.Fatalf("zero TransferFrom without allowance: %v", err)
	}
	if err := tok.Transfer(ctx, alice, common.Address{}, units.New(1)); abort.Reason(err) != reasonZeroRecipient {
		t.Fatalf("expected zero recipient revert, got %v", err)
	}
}

func TestMemoryToken_CheckpointRestores(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tok := NewMemoryToken(tokenAddr, "OG")
	_ = tok.Mint(ctx, alice, units.New(10))
	_ = tok.Approve(ctx, alice, bob, units.New(5))

	restore := tok.Checkpoint()
	_ = tok.Transfer(ctx, alice, bob, units.New(10))
	_ = tok.Approve(ctx, alice, bob, units.New(0))
	_ = tok.Mint(ctx, carol, units.New(7))
	restore()

	if got := tok.BalanceOf(alice).Uint64(); got != 10 {
		t.Fatalf("alice after restore: got %d want 10", got)
	}
	if got := tok.BalanceOf(carol).Uint64(); got != 0 {
		t.Fatalf("carol after restore: got %d want 0", got)
	}
	if got := tok.Allowance(alice, bob).Uint64(); got != 5 {
		t.Fatalf("allowance after restore: got %d want 5", got)
	}
	if got := tok.TotalSupply().Uint64(); got != 10 {
		t.Fatalf("supply after restore: got %d want 10", got)
	}
}

func TestBook_ResolveAndCheckpoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	native := NewMemoryToken(NativeAddress, "RBTC")
	og := NewMemoryToken(tokenAddr, "OG")
	book := NewBook(native, og)

	if _, ok := book.Token(common.HexToAddress("0x01")); ok {
		t.Fatalf("unexpected token")
	}
	tok, ok := book.Token(NativeAddress)
	if !ok || tok.Address() != NativeAddress {
		t.Fatalf("native token not resolved")
	}

	restore := book.Checkpoint()
	_ = native.Mint(ctx, alice, units.New(1))
	_ = og.Mint(ctx, bob, units.New(2))
	restore()
	if !native.BalanceOf(alice).IsZero() || !og.BalanceOf(bob).IsZero() {
		t.Fatalf("book checkpoint did not restore every token")
	}
	if got := book.Addresses(); len(got) != 2 || got[0] != NativeAddress {
		t.Fatalf("addresses: %v", got)
	}
}
