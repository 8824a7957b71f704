package events

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Topic is keccak256 of the event signature.
func (e Event) Topic() common.Hash {
	return crypto.Keccak256Hash([]byte(e.Signature()))
}

// ToLog encodes the event the way an EVM contract would emit it: indexed args become topics,
// the rest are ABI-encoded into data.
func (e Event) ToLog() (*types.Log, error) {
	topics := []common.Hash{e.Topic()}
	var (
		args   abi.Arguments
		values []any
	)
	for _, a := range e.Args {
		if a.Indexed {
			topic, err := topicValue(a)
			if err != nil {
				return nil, fmt.Errorf("events: %s.%s: %w", e.Name, a.Name, err)
			}
			topics = append(topics, topic)
			continue
		}
		typ, err := abi.NewType(a.Type.String(), "", nil)
		if err != nil {
			return nil, fmt.Errorf("events: %s.%s: %w", e.Name, a.Name, err)
		}
		v, err := abiValue(a)
		if err != nil {
			return nil, fmt.Errorf("events: %s.%s: %w", e.Name, a.Name, err)
		}
		args = append(args, abi.Argument{Name: a.Name, Type: typ})
		values = append(values, v)
	}
	data, err := args.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("events: pack %s: %w", e.Name, err)
	}
	return &types.Log{
		Address: e.Contract,
		Topics:  topics,
		Data:    data,
	}, nil
}

func abiValue(a Arg) (any, error) {
	switch v := a.Value.(type) {
	case common.Address:
		return v, nil
	case *uint256.Int:
		return v.ToBig(), nil
	case uint8:
		return v, nil
	case bool:
		return v, nil
	case common.Hash:
		return [32]byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported value %T", a.Value)
	}
}

func topicValue(a Arg) (common.Hash, error) {
	switch v := a.Value.(type) {
	case common.Address:
		return common.BytesToHash(v.Bytes()), nil
	case *uint256.Int:
		return common.Hash(v.Bytes32()), nil
	case uint8:
		return common.BigToHash(new(big.Int).SetUint64(uint64(v))), nil
	case bool:
		if v {
			return common.BigToHash(big.NewInt(1)), nil
		}
		return common.Hash{}, nil
	case common.Hash:
		return v, nil
	default:
		return common.Hash{}, fmt.Errorf("unsupported value %T", a.Value)
	}
}
