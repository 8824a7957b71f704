// Package events defines the audit records emitted by ledger and sale operations.
package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Sovryn-Origins/origins/internal/units"
)

type ArgType uint8

const (
	TypeAddress ArgType = iota + 1
	TypeUint256
	TypeUint8
	TypeBool
	TypeBytes32
)

func (t ArgType) String() string {
	switch t {
	case TypeAddress:
		return "address"
	case TypeUint256:
		return "uint256"
	case TypeUint8:
		return "uint8"
	case TypeBool:
		return "bool"
	case TypeBytes32:
		return "bytes32"
	default:
		return "unknown"
	}
}

// Arg is one named event field.
type Arg struct {
	Name    string
	Type    ArgType
	Indexed bool
	Value   any
}

func Address(name string, v common.Address) Arg {
	return Arg{Name: name, Type: TypeAddress, Value: v}
}

// IndexedAddress is an address that is also published as a log topic.
func IndexedAddress(name string, v common.Address) Arg {
	return Arg{Name: name, Type: TypeAddress, Indexed: true, Value: v}
}

func Amount(name string, v *uint256.Int) Arg {
	return Arg{Name: name, Type: TypeUint256, Value: units.Clone(v)}
}

func Uint(name string, v uint64) Arg {
	return Arg{Name: name, Type: TypeUint256, Value: units.New(v)}
}

func Enum(name string, v uint8) Arg {
	return Arg{Name: name, Type: TypeUint8, Value: v}
}

func Bool(name string, v bool) Arg {
	return Arg{Name: name, Type: TypeBool, Value: v}
}

func Hash(name string, v common.Hash) Arg {
	return Arg{Name: name, Type: TypeBytes32, Value: v}
}

// Event is an audit record emitted by the contract at Contract.
type Event struct {
	Contract common.Address
	Name     string
	Args     []Arg
}

func New(contract common.Address, name string, args ...Arg) Event {
	return Event{Contract: contract, Name: name, Args: args}
}

// Signature is the canonical "Name(type,...)" string.
func (e Event) Signature() string {
	types := make([]string, len(e.Args))
	for i, a := range e.Args {
		types[i] = a.Type.String()
	}
	return e.Name + "(" + strings.Join(types, ",") + ")"
}

// Arg returns the named field.
func (e Event) Arg(name string) (any, bool) {
	for _, a := range e.Args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

type jsonEvent struct {
	Contract string            `json:"contract"`
	Name     string            `json:"name"`
	Args     map[string]string `json:"args"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	out := jsonEvent{
		Contract: e.Contract.Hex(),
		Name:     e.Name,
		Args:     make(map[string]string, len(e.Args)),
	}
	for _, a := range e.Args {
		s, err := formatValue(a)
		if err != nil {
			return nil, fmt.Errorf("events: %s.%s: %w", e.Name, a.Name, err)
		}
		out.Args[a.Name] = s
	}
	return json.Marshal(out)
}

func formatValue(a Arg) (string, error) {
	switch v := a.Value.(type) {
	case common.Address:
		return v.Hex(), nil
	case *uint256.Int:
		return units.String(v), nil
	case uint8:
		return fmt.Sprintf("%d", v), nil
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	case common.Hash:
		return v.Hex(), nil
	default:
		return "", fmt.Errorf("unsupported value %T", a.Value)
	}
}

// Sink receives emitted events.
type Sink interface {
	Emit(Event)
}

// Buffer collects the events of one operation. It is not safe for concurrent use.
type Buffer struct {
	events []Event
}

func (b *Buffer) Emit(e Event) { b.events = append(b.events, e) }

// Events returns a copy of the buffered events.
func (b *Buffer) Events() []Event {
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

func (b *Buffer) Len() int { return len(b.events) }

func (b *Buffer) Reset() { b.events = b.events[:0] }

type discard struct{}

func (discard) Emit(Event) {}

// Discard drops every event.
var Discard Sink = discard{}
