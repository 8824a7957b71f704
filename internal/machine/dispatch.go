package machine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Sovryn-Origins/origins/internal/abort"
	"github.com/Sovryn-Origins/origins/internal/command"
	"github.com/Sovryn-Origins/origins/internal/events"
	"github.com/Sovryn-Origins/origins/internal/sale"
)

const (
	reasonValueNotAccepted = "Machine: Value can only be attached to buy."
	reasonUnknownToken     = "Machine: Unknown token."
)

type TierOutput struct {
	TierID uint64 `json:"tierId"`
}

type ReceiptOutput struct {
	Accepted *command.Amount `json:"accepted"`
	Refunded *command.Amount `json:"refunded"`
	Tokens   *command.Amount `json:"tokens"`
}

type VestingsOutput struct {
	Vestings []common.Address `json:"vestings"`
}

func receiptOutput(r sale.Receipt) ReceiptOutput {
	return ReceiptOutput{
		Accepted: command.NewAmount(r.Accepted),
		Refunded: command.NewAmount(r.Refunded),
		Tokens:   command.NewAmount(r.Tokens),
	}
}

// dispatch runs one command. The returned value, if any, becomes the result output.
func (m *Machine) dispatch(ctx context.Context, sink events.Sink, env command.Envelope) (any, error) {
	if env.Kind != command.KindBuy && !env.Value.Int().IsZero() {
		return nil, abort.Invalid(reasonValueNotAccepted)
	}
	caller := env.Caller
	s, v := m.sale, m.vault

	switch env.Kind {
	case command.KindAddOwner, command.KindRemoveOwner, command.KindAddVerifier, command.KindRemoveVerifier,
		command.KindSetDepositAddress, command.KindSetLockedFund,
		command.KindAddAdmin, command.KindRemoveAdmin, command.KindChangeVestingRegistry:
		var a command.AddressArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		return nil, m.setAddress(sink, env.Kind, caller, a.Address)

	case command.KindChangeWaitedTS:
		var a command.TimestampArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		return nil, v.ChangeWaitedTS(sink, caller, a.Timestamp)

	case command.KindCreateTier:
		var a command.CreateTierArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		id, err := s.CreateTier(ctx, sink, caller, a.NewTier())
		if err != nil {
			return nil, err
		}
		return TierOutput{TierID: id}, nil

	case command.KindSetTierVerification:
		var a command.TierVerificationArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		return nil, s.SetTierVerification(ctx, sink, caller, a.TierID, a.Verification)

	case command.KindSetTierDeposit:
		var a command.TierDepositArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		return nil, s.SetTierDeposit(ctx, sink, caller, a.TierID, a.DepositRate.Int(), a.DepositToken, a.DepositType)

	case command.KindSetTierTokenLimit:
		var a command.TierTokenLimitArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		return nil, s.SetTierTokenLimit(ctx, sink, caller, a.TierID, a.MinAmount.Int(), a.MaxAmount.Int())

	case command.KindSetTierTokenAmount:
		var a command.TierTokenAmountArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		return nil, s.SetTierTokenAmount(ctx, sink, caller, a.TierID, a.RemainingTokens.Int())

	case command.KindSetTierVestOrLock:
		var a command.TierVestOrLockArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		return nil, s.SetTierVestOrLock(ctx, sink, caller, a.TierID, sale.VestOrLock{
			CliffPeriods:            a.CliffPeriods,
			DurationPeriods:         a.DurationPeriods,
			UnlockedTokenWithdrawTS: a.UnlockedTokenWithdrawTS,
			UnlockedBP:              a.UnlockedBP,
			TransferType:            a.TransferType,
		})

	case command.KindSetTierTime:
		var a command.TierTimeArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		return nil, s.SetTierTime(ctx, sink, caller, a.TierID, a.SaleStartTS, a.SaleEnd, a.SaleEndMode)

	case command.KindSetTierSaleType:
		var a command.TierSaleTypeArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		return nil, s.SetTierSaleType(ctx, sink, caller, a.TierID, a.SaleType)

	case command.KindSetTierStakeCondition:
		var a command.TierStakeConditionArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		return nil, s.SetTierStakeCondition(ctx, sink, caller, a.TierID, a.MinStake.Int(), a.MaxStake.Int())

	case command.KindAddressVerification:
		var a command.VerificationArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		return nil, s.AddressVerification(sink, caller, a.User, a.TierID)

	case command.KindSingleAddressMultipleTierVerification:
		var a command.VerificationArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		return nil, s.SingleAddressMultipleTierVerification(sink, caller, a.User, a.TierIDs)

	case command.KindMultipleAddressSingleTierVerification:
		var a command.VerificationArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		return nil, s.MultipleAddressSingleTierVerification(sink, caller, a.Users, a.TierID)

	case command.KindMultipleAddressAndTierVerification:
		var a command.VerificationArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		return nil, s.MultipleAddressAndTierVerification(sink, caller, a.Users, a.TierIDs)

	case command.KindBuy:
		var a command.BuyArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		r, err := s.Buy(ctx, sink, caller, sale.BuyInput{
			TierID:  a.TierID,
			Amount:  a.Amount.Int(),
			Value:   env.Value.Int(),
			StakeID: a.StakeID,
		})
		if err != nil {
			return nil, err
		}
		return receiptOutput(r), nil

	case command.KindCloseSaleOf:
		var a command.TierArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		return nil, s.CloseSaleOf(sink, caller, a.TierID)

	case command.KindClaim:
		var a command.ClaimArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		user := a.User
		if user == (common.Address{}) {
			user = caller
		}
		r, err := s.Claim(ctx, sink, caller, a.TierID, user)
		if err != nil {
			return nil, err
		}
		return receiptOutput(r), nil

	case command.KindWithdrawSaleDeposit:
		return nil, s.WithdrawSaleDeposit(ctx, sink, caller)

	case command.KindWithdrawUnsoldTokens:
		var a command.TierArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		return nil, s.WithdrawUnsoldTokens(ctx, sink, caller, a.TierID)

	case command.KindDepositVested, command.KindDepositLocked, command.KindDepositWaitedUnlocked:
		var a command.DepositArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		switch env.Kind {
		case command.KindDepositVested:
			return nil, v.DepositVested(ctx, sink, caller, a.User, a.Amount.Int(), a.CliffPeriods, a.DurationPeriods, a.UnlockedBP, a.UnlockMode)
		case command.KindDepositLocked:
			return nil, v.DepositLocked(ctx, sink, caller, a.User, a.Amount.Int(), a.CliffPeriods, a.DurationPeriods, a.UnlockedBP, a.UnlockMode)
		default:
			return nil, v.DepositWaitedUnlocked(ctx, sink, caller, a.User, a.Amount.Int(), a.UnlockedBP)
		}

	case command.KindWithdrawWaitedUnlockedBalance, command.KindWithdrawUnlockedBalance, command.KindWithdrawAndStakeTokens:
		var a command.DestinationArgs
		if len(env.Args) > 0 {
			if err := env.DecodeArgs(&a); err != nil {
				return nil, err
			}
		}
		switch env.Kind {
		case command.KindWithdrawWaitedUnlockedBalance:
			return nil, v.WithdrawWaitedUnlockedBalance(ctx, sink, caller, a.Destination)
		case command.KindWithdrawUnlockedBalance:
			return nil, v.WithdrawUnlockedBalance(ctx, sink, caller, a.Destination)
		default:
			return nil, v.WithdrawAndStakeTokens(ctx, sink, caller, a.Destination)
		}

	case command.KindCreateVesting:
		addrs, err := v.CreateVesting(ctx, sink, caller)
		if err != nil {
			return nil, err
		}
		return VestingsOutput{Vestings: addrs}, nil

	case command.KindStakeTokens:
		return nil, v.StakeTokens(ctx, sink, caller)

	case command.KindCreateVestingAndStake:
		return nil, v.CreateVestingAndStake(ctx, sink, caller)

	case command.KindWithdrawAndStakeTokensFrom:
		var a command.UserArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		return nil, v.WithdrawAndStakeTokensFrom(ctx, sink, caller, a.User)

	case command.KindApprove, command.KindTransfer:
		var a command.TokenArgs
		if err := env.DecodeArgs(&a); err != nil {
			return nil, err
		}
		return nil, m.moveToken(ctx, sink, env.Kind, caller, a)
	}
	return nil, fmt.Errorf("%w: %q", command.ErrUnknownKind, env.Kind)
}

func (m *Machine) setAddress(sink events.Sink, kind command.Kind, caller, addr common.Address) error {
	s, v := m.sale, m.vault
	switch kind {
	case command.KindAddOwner:
		return s.AddOwner(sink, caller, addr)
	case command.KindRemoveOwner:
		return s.RemoveOwner(sink, caller, addr)
	case command.KindAddVerifier:
		return s.AddVerifier(sink, caller, addr)
	case command.KindRemoveVerifier:
		return s.RemoveVerifier(sink, caller, addr)
	case command.KindSetDepositAddress:
		return s.SetDepositAddress(sink, caller, addr)
	case command.KindSetLockedFund:
		return s.SetLockedFund(sink, caller, addr)
	case command.KindAddAdmin:
		return v.AddAdmin(sink, caller, addr)
	case command.KindRemoveAdmin:
		return v.RemoveAdmin(sink, caller, addr)
	case command.KindChangeVestingRegistry:
		return v.ChangeVestingRegistry(sink, caller, addr)
	}
	return fmt.Errorf("%w: %q", command.ErrUnknownKind, kind)
}

// moveToken approves or transfers a listed token on behalf of caller.
func (m *Machine) moveToken(ctx context.Context, sink events.Sink, kind command.Kind, caller common.Address, a command.TokenArgs) error {
	tok, ok := m.tokens.Token(a.Token)
	if !ok {
		return abort.Precondition(reasonUnknownToken)
	}
	amount := a.Amount.Int()
	if kind == command.KindApprove {
		if err := tok.Approve(ctx, caller, a.To, amount); err != nil {
			return err
		}
		sink.Emit(events.New(a.Token, "Approval",
			events.IndexedAddress("owner", caller),
			events.IndexedAddress("spender", a.To),
			events.Amount("value", amount)))
		return nil
	}
	if err := tok.Transfer(ctx, caller, a.To, amount); err != nil {
		return err
	}
	sink.Emit(events.New(a.Token, "Transfer",
		events.IndexedAddress("from", caller),
		events.IndexedAddress("to", a.To),
		events.Amount("value", amount)))
	return nil
}
