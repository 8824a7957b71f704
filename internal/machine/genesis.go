package machine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Sovryn-Origins/origins/internal/command"
	"github.com/Sovryn-Origins/origins/internal/token"
)

var ErrInvalidGenesis = errors.New("machine: invalid genesis")

// Genesis seeds a machine. The native currency is the token at token.NativeAddress; it must be
// listed when any tier is to accept native deposits.
type Genesis struct {
	Sale       SaleGenesis      `json:"sale"`
	Vault      VaultGenesis     `json:"vault"`
	Staking    common.Address   `json:"staking"`
	Registries []common.Address `json:"registries"`
	Tokens     []TokenGenesis   `json:"tokens"`
}

type SaleGenesis struct {
	Address        common.Address   `json:"address"`
	Owners         []common.Address `json:"owners"`
	Token          common.Address   `json:"token"`
	DepositAddress common.Address   `json:"depositAddress"`
}

// VaultGenesis configures the locked fund. The sale address is always added as an admin so
// purchases can settle.
type VaultGenesis struct {
	Address         common.Address   `json:"address"`
	WaitedTS        uint64           `json:"waitedTS"`
	Admins          []common.Address `json:"admins"`
	VestingRegistry common.Address   `json:"vestingRegistry"`
}

type TokenGenesis struct {
	Address  common.Address                     `json:"address"`
	Symbol   string                             `json:"symbol"`
	Balances map[common.Address]*command.Amount `json:"balances,omitempty"`
}

// LoadGenesis reads and validates a genesis file.
func LoadGenesis(path string) (Genesis, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, fmt.Errorf("machine: read genesis: %w", err)
	}
	var g Genesis
	if err := json.Unmarshal(b, &g); err != nil {
		return Genesis{}, fmt.Errorf("%w: %v", ErrInvalidGenesis, err)
	}
	if err := g.Validate(); err != nil {
		return Genesis{}, err
	}
	return g, nil
}

// Validate checks the wiring between components. Domain rules (zero owners, zero waited
// timestamp, ...) are left to the components so they surface with their own revert reasons.
func (g Genesis) Validate() error {
	if g.Sale.Address == (common.Address{}) || g.Vault.Address == (common.Address{}) || g.Staking == (common.Address{}) {
		return fmt.Errorf("%w: sale, vault and staking addresses are required", ErrInvalidGenesis)
	}
	if g.Sale.Address == g.Vault.Address {
		return fmt.Errorf("%w: sale and vault share an address", ErrInvalidGenesis)
	}
	seen := make(map[common.Address]bool, len(g.Tokens))
	for _, t := range g.Tokens {
		if seen[t.Address] {
			return fmt.Errorf("%w: duplicate token %s", ErrInvalidGenesis, t.Address)
		}
		seen[t.Address] = true
	}
	if g.Sale.Token != token.NativeAddress && !seen[g.Sale.Token] {
		return fmt.Errorf("%w: sale token %s is not listed", ErrInvalidGenesis, g.Sale.Token)
	}
	regs := make(map[common.Address]bool, len(g.Registries))
	for _, r := range g.Registries {
		if r == (common.Address{}) || regs[r] {
			return fmt.Errorf("%w: zero or duplicate registry %s", ErrInvalidGenesis, r)
		}
		regs[r] = true
	}
	if g.Vault.VestingRegistry != (common.Address{}) && !regs[g.Vault.VestingRegistry] {
		return fmt.Errorf("%w: vesting registry %s is not listed", ErrInvalidGenesis, g.Vault.VestingRegistry)
	}
	return nil
}
