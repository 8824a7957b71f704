// Package command defines the signed envelope every state-changing operation arrives in.
package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Sovryn-Origins/origins/internal/idempotency"
)

const Version = "v1"

var (
	ErrInvalidEnvelope = errors.New("command: invalid envelope")
	ErrUnknownKind     = errors.New("command: unknown kind")
)

type Kind string

// Access roster.
const (
	KindAddOwner       Kind = "addOwner"
	KindRemoveOwner    Kind = "removeOwner"
	KindAddVerifier    Kind = "addVerifier"
	KindRemoveVerifier Kind = "removeVerifier"
)

// Sale engine.
const (
	KindSetDepositAddress                     Kind = "setDepositAddress"
	KindSetLockedFund                         Kind = "setLockedFund"
	KindCreateTier                            Kind = "createTier"
	KindSetTierVerification                   Kind = "setTierVerification"
	KindSetTierDeposit                        Kind = "setTierDeposit"
	KindSetTierTokenLimit                     Kind = "setTierTokenLimit"
	KindSetTierTokenAmount                    Kind = "setTierTokenAmount"
	KindSetTierVestOrLock                     Kind = "setTierVestOrLock"
	KindSetTierTime                           Kind = "setTierTime"
	KindSetTierSaleType                       Kind = "setTierSaleType"
	KindSetTierStakeCondition                 Kind = "setTierStakeCondition"
	KindAddressVerification                   Kind = "addressVerification"
	KindSingleAddressMultipleTierVerification Kind = "singleAddressMultipleTierVerification"
	KindMultipleAddressSingleTierVerification Kind = "multipleAddressSingleTierVerification"
	KindMultipleAddressAndTierVerification    Kind = "multipleAddressAndTierVerification"
	KindBuy                                   Kind = "buy"
	KindCloseSaleOf                           Kind = "closeSaleOf"
	KindClaim                                 Kind = "claim"
	KindWithdrawSaleDeposit                   Kind = "withdrawSaleDeposit"
	KindWithdrawUnsoldTokens                  Kind = "withdrawUnsoldTokens"
)

// Locked fund vault.
const (
	KindAddAdmin                      Kind = "addAdmin"
	KindRemoveAdmin                   Kind = "removeAdmin"
	KindChangeVestingRegistry         Kind = "changeVestingRegistry"
	KindChangeWaitedTS                Kind = "changeWaitedTS"
	KindDepositVested                 Kind = "depositVested"
	KindDepositLocked                 Kind = "depositLocked"
	KindDepositWaitedUnlocked         Kind = "depositWaitedUnlocked"
	KindWithdrawWaitedUnlockedBalance Kind = "withdrawWaitedUnlockedBalance"
	KindWithdrawUnlockedBalance       Kind = "withdrawUnlockedBalance"
	KindCreateVesting                 Kind = "createVesting"
	KindStakeTokens                   Kind = "stakeTokens"
	KindCreateVestingAndStake         Kind = "createVestingAndStake"
	KindWithdrawAndStakeTokens        Kind = "withdrawAndStakeTokens"
	KindWithdrawAndStakeTokensFrom    Kind = "withdrawAndStakeTokensFrom"
)

// Token plumbing.
const (
	KindApprove  Kind = "approve"
	KindTransfer Kind = "transfer"
)

var kinds = map[Kind]struct{}{}

func init() {
	for _, k := range []Kind{
		KindAddOwner, KindRemoveOwner, KindAddVerifier, KindRemoveVerifier,
		KindSetDepositAddress, KindSetLockedFund, KindCreateTier,
		KindSetTierVerification, KindSetTierDeposit, KindSetTierTokenLimit, KindSetTierTokenAmount,
		KindSetTierVestOrLock, KindSetTierTime, KindSetTierSaleType, KindSetTierStakeCondition,
		KindAddressVerification, KindSingleAddressMultipleTierVerification,
		KindMultipleAddressSingleTierVerification, KindMultipleAddressAndTierVerification,
		KindBuy, KindCloseSaleOf, KindClaim, KindWithdrawSaleDeposit, KindWithdrawUnsoldTokens,
		KindAddAdmin, KindRemoveAdmin, KindChangeVestingRegistry, KindChangeWaitedTS,
		KindDepositVested, KindDepositLocked, KindDepositWaitedUnlocked,
		KindWithdrawWaitedUnlockedBalance, KindWithdrawUnlockedBalance,
		KindCreateVesting, KindStakeTokens, KindCreateVestingAndStake,
		KindWithdrawAndStakeTokens, KindWithdrawAndStakeTokensFrom,
		KindApprove, KindTransfer,
	} {
		kinds[k] = struct{}{}
	}
}

// Known reports whether k is a supported command kind.
func Known(k Kind) bool {
	_, ok := kinds[k]
	return ok
}

// Envelope is one state-changing call. At is the unix time the call executes at; Value is native
// currency attached to the call (only buy accepts it).
type Envelope struct {
	Version   string          `json:"version"`
	Kind      Kind            `json:"kind"`
	Caller    common.Address  `json:"caller"`
	At        uint64          `json:"at"`
	Value     *Amount         `json:"value,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Nonce     uint64          `json:"nonce"`
	Signature hexutil.Bytes   `json:"signature,omitempty"`
}

// New builds an unsigned envelope with args marshalled to JSON.
func New(kind Kind, caller common.Address, at, nonce uint64, args any) (Envelope, error) {
	e := Envelope{Version: Version, Kind: kind, Caller: caller, At: at, Nonce: nonce}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return Envelope{}, fmt.Errorf("command: marshal args: %w", err)
		}
		e.Args = raw
	}
	return e, e.Validate()
}

func (e Envelope) Validate() error {
	if e.Version != Version {
		return fmt.Errorf("%w: unsupported version %q", ErrInvalidEnvelope, e.Version)
	}
	if !Known(e.Kind) {
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if e.Caller == (common.Address{}) {
		return fmt.Errorf("%w: missing caller", ErrInvalidEnvelope)
	}
	if e.At == 0 {
		return fmt.Errorf("%w: missing at", ErrInvalidEnvelope)
	}
	if len(e.Args) > 0 && !json.Valid(e.Args) {
		return fmt.Errorf("%w: args are not valid json", ErrInvalidEnvelope)
	}
	return nil
}

// Payload is the canonical encoding hashed into the command id: the envelope without its
// signature, with compacted args.
func (e Envelope) Payload() ([]byte, error) {
	e.Signature = nil
	if len(e.Args) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, e.Args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
		e.Args = buf.Bytes()
	}
	return json.Marshal(e)
}

// ID is the command id.
func (e Envelope) ID() (common.Hash, error) {
	payload, err := e.Payload()
	if err != nil {
		return common.Hash{}, err
	}
	return idempotency.CommandIDV1(payload), nil
}

// DecodeArgs unmarshals the args into v, rejecting unknown fields.
func (e Envelope) DecodeArgs(v any) error {
	if len(e.Args) == 0 {
		return fmt.Errorf("%w: %s requires args", ErrInvalidEnvelope, e.Kind)
	}
	dec := json.NewDecoder(bytes.NewReader(e.Args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %s args: %v", ErrInvalidEnvelope, e.Kind, err)
	}
	return nil
}

// Decode parses and validates a JSON envelope.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
