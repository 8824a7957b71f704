package roster

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/Sovryn-Origins/origins/internal/events"
)

var (
	OwnerMessages = Messages{
		Unauthorized:   "OriginsAdmin: Only owner can call this function.",
		InvalidAddress: "OriginsAdmin: Invalid Address.",
		AlreadyMember:  "OriginsAdmin: Address is already an owner.",
		NotMember:      "OriginsAdmin: Address is not an owner.",
	}
	VerifierMessages = Messages{
		Unauthorized:   "OriginsAdmin: Only verifier can call this function.",
		InvalidAddress: "OriginsAdmin: Invalid Address.",
		AlreadyMember:  "OriginsAdmin: Address is already a verifier.",
		NotMember:      "OriginsAdmin: Address is not a verifier.",
	}
)

// Roster holds the two disjoint role lists of a sale: owners administer, verifiers approve
// contributors. Every mutation requires the caller to be an owner.
type Roster struct {
	contract  common.Address
	owners    *List
	verifiers *List
}

// New seeds the owner list. contract is the address events are attributed to.
func New(contract common.Address, owners []common.Address) (*Roster, error) {
	o, err := NewList(OwnerMessages, owners)
	if err != nil {
		return nil, err
	}
	v, _ := NewList(VerifierMessages, nil)
	return &Roster{contract: contract, owners: o, verifiers: v}, nil
}

func (r *Roster) AddOwner(sink events.Sink, caller, addr common.Address) error {
	if err := r.owners.Require(caller); err != nil {
		return err
	}
	if err := r.owners.Add(addr); err != nil {
		return err
	}
	sink.Emit(events.New(r.contract, "OwnerAdded",
		events.IndexedAddress("_initiator", caller),
		events.Address("_newOwner", addr)))
	return nil
}

func (r *Roster) RemoveOwner(sink events.Sink, caller, addr common.Address) error {
	if err := r.owners.Require(caller); err != nil {
		return err
	}
	if err := r.owners.Remove(addr); err != nil {
		return err
	}
	sink.Emit(events.New(r.contract, "OwnerRemoved",
		events.IndexedAddress("_initiator", caller),
		events.Address("_removedOwner", addr)))
	return nil
}

func (r *Roster) AddVerifier(sink events.Sink, caller, addr common.Address) error {
	if err := r.owners.Require(caller); err != nil {
		return err
	}
	if err := r.verifiers.Add(addr); err != nil {
		return err
	}
	sink.Emit(events.New(r.contract, "VerifierAdded",
		events.IndexedAddress("_initiator", caller),
		events.Address("_newVerifier", addr)))
	return nil
}

func (r *Roster) RemoveVerifier(sink events.Sink, caller, addr common.Address) error {
	if err := r.owners.Require(caller); err != nil {
		return err
	}
	if err := r.verifiers.Remove(addr); err != nil {
		return err
	}
	sink.Emit(events.New(r.contract, "VerifierRemoved",
		events.IndexedAddress("_initiator", caller),
		events.Address("_removedVerifier", addr)))
	return nil
}

func (r *Roster) OnlyOwner(caller common.Address) error { return r.owners.Require(caller) }

func (r *Roster) OnlyVerifier(caller common.Address) error { return r.verifiers.Require(caller) }

func (r *Roster) IsOwner(addr common.Address) bool { return r.owners.Has(addr) }

func (r *Roster) IsVerifier(addr common.Address) bool { return r.verifiers.Has(addr) }

func (r *Roster) Owners() []common.Address { return r.owners.Members() }

func (r *Roster) Verifiers() []common.Address { return r.verifiers.Members() }

func (r *Roster) Clone() *Roster {
	return &Roster{contract: r.contract, owners: r.owners.Clone(), verifiers: r.verifiers.Clone()}
}
