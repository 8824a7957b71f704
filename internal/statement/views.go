package statement

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Sovryn-Origins/origins/internal/command"
	"github.com/Sovryn-Origins/origins/internal/lockedfund"
	"github.com/Sovryn-Origins/origins/internal/machine"
	"github.com/Sovryn-Origins/origins/internal/sale"
)

// TierView is the JSON form of a tier together with its sale progress.
type TierView struct {
	ID                      uint64            `json:"tierId"`
	MinAmount               *command.Amount   `json:"minAmount"`
	MaxAmount               *command.Amount   `json:"maxAmount"`
	RemainingTokens         *command.Amount   `json:"remainingTokens"`
	SaleStartTS             uint64            `json:"saleStartTS"`
	SaleEnd                 uint64            `json:"saleEnd"`
	SaleEndMode             sale.SaleEndMode  `json:"saleEndMode"`
	UnlockedTokenWithdrawTS uint64            `json:"unlockedTokenWithdrawTS"`
	UnlockedBP              uint64            `json:"unlockedBP"`
	CliffPeriods            uint64            `json:"cliffPeriods"`
	DurationPeriods         uint64            `json:"durationPeriods"`
	DepositRate             *command.Amount   `json:"depositRate"`
	DepositToken            common.Address    `json:"depositToken"`
	DepositType             sale.DepositType  `json:"depositType"`
	Verification            sale.Verification `json:"verification"`
	TransferType            sale.TransferType `json:"transferType"`
	SaleType                sale.SaleType     `json:"saleType"`
	MinStake                *command.Amount   `json:"minStake"`
	MaxStake                *command.Amount   `json:"maxStake"`
	Closed                  bool              `json:"closed"`
	Ended                   bool              `json:"ended"`
	TokensSold              *command.Amount   `json:"tokensSold"`
	TotalAllocation         *command.Amount   `json:"totalAllocation"`
	ParticipatingWallets    uint64            `json:"participatingWallets"`
	PoolTotal               *command.Amount   `json:"poolTotal,omitempty"`
}

func NewTierView(e *sale.Engine, t sale.Tier) TierView {
	ended, _ := e.CheckSaleEnded(t.ID)
	v := TierView{
		ID:                      t.ID,
		MinAmount:               command.NewAmount(t.MinAmount),
		MaxAmount:               command.NewAmount(t.MaxAmount),
		RemainingTokens:         command.NewAmount(t.RemainingTokens),
		SaleStartTS:             t.SaleStartTS,
		SaleEnd:                 t.SaleEnd,
		SaleEndMode:             t.SaleEndMode,
		UnlockedTokenWithdrawTS: t.UnlockedTokenWithdrawTS,
		UnlockedBP:              t.UnlockedBP,
		CliffPeriods:            t.CliffPeriods,
		DurationPeriods:         t.DurationPeriods,
		DepositRate:             command.NewAmount(t.DepositRate),
		DepositToken:            t.DepositToken,
		DepositType:             t.DepositType,
		Verification:            t.Verification,
		TransferType:            t.TransferType,
		SaleType:                t.SaleType,
		MinStake:                command.NewAmount(t.MinStake),
		MaxStake:                command.NewAmount(t.MaxStake),
		Closed:                  t.Closed,
		Ended:                   ended,
		TokensSold:              command.NewAmount(e.TokensSoldPerTier(t.ID)),
		TotalAllocation:         command.NewAmount(e.TotalTokenAllocationPerTier(t.ID)),
		ParticipatingWallets:    e.ParticipatingWalletCountPerTier(t.ID),
	}
	if t.SaleType == sale.SalePooled {
		v.PoolTotal = command.NewAmount(e.PoolTotal(t.ID))
	}
	return v
}

// ParticipantView is one address's standing in a tier.
type ParticipantView struct {
	TierID       uint64          `json:"tierId"`
	Address      common.Address  `json:"address"`
	Approved     bool            `json:"approved"`
	// TokensBought is in deposit units, the unit of the per-address cap.
	TokensBought *command.Amount `json:"tokensBought"`
	PoolDeposit  *command.Amount `json:"poolDeposit,omitempty"`
	Allocation   *command.Amount `json:"allocation,omitempty"`
	Claimed      bool            `json:"claimed,omitempty"`
}

func NewParticipantView(e *sale.Engine, tierID uint64, user common.Address) ParticipantView {
	v := ParticipantView{
		TierID:       tierID,
		Address:      user,
		Approved:     e.IsAddressApproved(user, tierID),
		TokensBought: command.NewAmount(e.TokensBoughtByAddressOnTier(user, tierID)),
	}
	if t, ok := e.ReadTier(tierID); ok && t.SaleType == sale.SalePooled {
		p := e.PoolPosition(tierID, user)
		v.PoolDeposit = command.NewAmount(p.Deposit)
		v.Allocation = command.NewAmount(p.Allocation)
		v.Claimed = p.Claimed
	}
	return v
}

type ScheduleView struct {
	Key             common.Hash     `json:"key"`
	CliffSeconds    uint64          `json:"cliffSeconds"`
	DurationSeconds uint64          `json:"durationSeconds"`
	Amount          *command.Amount `json:"amount"`
	Vesting         common.Address  `json:"vesting"`
	Registry        common.Address  `json:"registry"`
}

// LedgerView is a user's balances in the locked-fund vault.
type LedgerView struct {
	User            common.Address  `json:"user"`
	Vested          *command.Amount `json:"vested"`
	Locked          *command.Amount `json:"locked"`
	WaitedUnlocked  *command.Amount `json:"waitedUnlocked"`
	Unlocked        *command.Amount `json:"unlocked"`
	VestedSchedules []ScheduleView  `json:"vestedSchedules"`
	LockedSchedules []ScheduleView  `json:"lockedSchedules"`
}

func NewLedgerView(b lockedfund.Balances) LedgerView {
	return LedgerView{
		User:            b.User,
		Vested:          command.NewAmount(b.Vested),
		Locked:          command.NewAmount(b.Locked),
		WaitedUnlocked:  command.NewAmount(b.WaitedUnlocked),
		Unlocked:        command.NewAmount(b.Unlocked),
		VestedSchedules: scheduleViews(b.VestedSchedules),
		LockedSchedules: scheduleViews(b.LockedSchedules),
	}
}

func scheduleViews(in []lockedfund.ScheduleBalance) []ScheduleView {
	out := make([]ScheduleView, 0, len(in))
	for _, s := range in {
		out = append(out, ScheduleView{
			Key:             s.Key,
			CliffSeconds:    s.Schedule.Cliff,
			DurationSeconds: s.Schedule.Duration,
			Amount:          command.NewAmount(s.Amount),
			Vesting:         s.Vesting,
			Registry:        s.Registry,
		})
	}
	return out
}

// RolesView lists who may administer the sale and the vault.
type RolesView struct {
	Owners      []common.Address `json:"owners"`
	Verifiers   []common.Address `json:"verifiers"`
	VaultAdmins []common.Address `json:"vaultAdmins"`
}

func NewRolesView(s machine.State) RolesView {
	return RolesView{
		Owners:      s.Sale.Owners(),
		Verifiers:   s.Sale.Verifiers(),
		VaultAdmins: s.Vault.Admins(),
	}
}

type SaleView struct {
	Address                   common.Address                     `json:"address"`
	Token                     common.Address                     `json:"token"`
	DepositAddress            common.Address                     `json:"depositAddress"`
	LockedFund                common.Address                     `json:"lockedFund"`
	TotalParticipatingWallets uint64                             `json:"totalParticipatingWallets"`
	Proceeds                  map[common.Address]*command.Amount `json:"proceeds"`
	Tiers                     []TierView                         `json:"tiers"`
}

func NewSaleView(e *sale.Engine) SaleView {
	tiers := e.Tiers()
	v := SaleView{
		Address:                   e.Address(),
		Token:                     e.Token(),
		DepositAddress:            e.DepositAddress(),
		LockedFund:                e.LockedFund(),
		TotalParticipatingWallets: e.TotalParticipatingWallets(),
		Proceeds:                  amounts(e.Proceeds()),
		Tiers:                     make([]TierView, 0, len(tiers)),
	}
	for _, t := range tiers {
		v.Tiers = append(v.Tiers, NewTierView(e, t))
	}
	return v
}

type VaultView struct {
	Address         common.Address  `json:"address"`
	Token           common.Address  `json:"token"`
	WaitedTS        uint64          `json:"waitedTS"`
	VestingRegistry common.Address  `json:"vestingRegistry"`
	Outstanding     *command.Amount `json:"outstanding"`
	Ledgers         []LedgerView    `json:"ledgers"`
}

func NewVaultView(v *lockedfund.Vault) VaultView {
	users := v.Users()
	out := VaultView{
		Address:         v.Address(),
		Token:           v.Token(),
		WaitedTS:        v.WaitedTS(),
		VestingRegistry: v.VestingRegistry(),
		Outstanding:     command.NewAmount(v.Outstanding()),
		Ledgers:         make([]LedgerView, 0, len(users)),
	}
	for _, u := range users {
		out.Ledgers = append(out.Ledgers, NewLedgerView(v.Balances(u)))
	}
	return out
}

func amounts(in map[common.Address]*uint256.Int) map[common.Address]*command.Amount {
	out := make(map[common.Address]*command.Amount, len(in))
	for k, v := range in {
		out[k] = command.NewAmount(v)
	}
	return out
}
