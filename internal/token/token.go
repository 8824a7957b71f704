// Package token defines the fungible-token collaborator and an in-memory implementation.
//
// The native currency is modelled as a token living at NativeAddress.
package token

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// NativeAddress identifies the chain's native currency.
var NativeAddress = common.Address{}

// Token is a standard fungible token. sender/spender identify the account on whose behalf the
// call is made. Transfers fail on insufficient balance or allowance; they never truncate.
type Token interface {
	Address() common.Address
	BalanceOf(owner common.Address) *uint256.Int
	Allowance(owner, spender common.Address) *uint256.Int
	Transfer(ctx context.Context, sender, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
	Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error
}

// Resolver looks tokens up by address.
type Resolver interface {
	Token(addr common.Address) (Token, bool)
}
