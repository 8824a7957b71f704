package roster

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Sovryn-Origins/origins/internal/abort"
	"github.com/Sovryn-Origins/origins/internal/events"
)

var (
	sale      = common.HexToAddress("0x0000000000000000000000000000000000005a1e")
	ownerOne  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	ownerTwo  = common.HexToAddress("0x0000000000000000000000000000000000000002")
	verifier  = common.HexToAddress("0x0000000000000000000000000000000000000003")
	stranger  = common.HexToAddress("0x0000000000000000000000000000000000000004")
	zeroAddr  = common.Address{}
	noEvents  = events.Discard
	lfMessage = Messages{
		Unauthorized:   "LockedFund: Only admin can call this.",
		InvalidAddress: "LockedFund: Invalid Address.",
		AlreadyMember:  "LockedFund: Address is already admin.",
		NotMember:      "LockedFund: Address is not an admin.",
	}
)

func wantReason(t *testing.T, err error, reason string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected revert %q, got nil", reason)
	}
	if got := abort.Reason(err); got != reason {
		t.Fatalf("reason: got %q want %q", got, reason)
	}
}

func TestNew_RejectsDuplicateAndZeroOwners(t *testing.T) {
	t.Parallel()

	_, err := New(sale, []common.Address{ownerOne, ownerOne})
	wantReason(t, err, "OriginsAdmin: Address is already an owner.")

	_, err = New(sale, []common.Address{ownerOne, zeroAddr})
	wantReason(t, err, "OriginsAdmin: Invalid Address.")

	r, err := New(sale, []common.Address{ownerOne, ownerTwo})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := r.Owners(); len(got) != 2 || got[0] != ownerOne || got[1] != ownerTwo {
		t.Fatalf("owners: got %v", got)
	}
}

func TestRoster_OwnerLifecycle(t *testing.T) {
	t.Parallel()

	r, err := New(sale, []common.Address{ownerOne})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var buf events.Buffer

	if err := r.AddOwner(&buf, ownerOne, ownerTwo); err != nil {
		t.Fatalf("AddOwner: %v", err)
	}
	wantReason(t, r.AddOwner(&buf, ownerOne, ownerTwo), "OriginsAdmin: Address is already an owner.")
	wantReason(t, r.AddOwner(&buf, ownerOne, zeroAddr), "OriginsAdmin: Invalid Address.")
	wantReason(t, r.AddOwner(&buf, stranger, verifier), "OriginsAdmin: Only owner can call this function.")

	if err := r.RemoveOwner(&buf, ownerOne, ownerTwo); err != nil {
		t.Fatalf("RemoveOwner: %v", err)
	}
	wantReason(t, r.RemoveOwner(&buf, ownerOne, ownerTwo), "OriginsAdmin: Address is not an owner.")
	if r.IsOwner(ownerTwo) {
		t.Fatalf("ownerTwo should be removed")
	}

	got := buf.Events()
	if len(got) != 2 || got[0].Name != "OwnerAdded" || got[1].Name != "OwnerRemoved" {
		t.Fatalf("events: %+v", got)
	}
	if v, _ := got[0].Arg("_newOwner"); v != ownerTwo {
		t.Fatalf("_newOwner: got %v want %v", v, ownerTwo)
	}
	if v, _ := got[1].Arg("_initiator"); v != ownerOne {
		t.Fatalf("_initiator: got %v want %v", v, ownerOne)
	}
}

func TestRoster_VerifierLifecycle(t *testing.T) {
	t.Parallel()

	r, err := New(sale, []common.Address{ownerOne})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	wantReason(t, r.OnlyVerifier(verifier), "OriginsAdmin: Only verifier can call this function.")
	wantReason(t, r.AddVerifier(noEvents, verifier, verifier), "OriginsAdmin: Only owner can call this function.")

	if err := r.AddVerifier(noEvents, ownerOne, verifier); err != nil {
		t.Fatalf("AddVerifier: %v", err)
	}
	if err := r.OnlyVerifier(verifier); err != nil {
		t.Fatalf("OnlyVerifier: %v", err)
	}
	wantReason(t, r.AddVerifier(noEvents, ownerOne, verifier), "OriginsAdmin: Address is already a verifier.")
	if err := r.RemoveVerifier(noEvents, ownerOne, verifier); err != nil {
		t.Fatalf("RemoveVerifier: %v", err)
	}
	wantReason(t, r.RemoveVerifier(noEvents, ownerOne, verifier), "OriginsAdmin: Address is not a verifier.")
}

func TestList_RemoveKeepsIndexConsistent(t *testing.T) {
	t.Parallel()

	l, err := NewList(lfMessage, []common.Address{ownerOne, ownerTwo, verifier})
	if err != nil {
		t.Fatalf("NewList: %v", err)
	}
	if err := l.Remove(ownerOne); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := l.Members(); len(got) != 2 || got[0] != verifier || got[1] != ownerTwo {
		t.Fatalf("members: got %v", got)
	}
	if err := l.Remove(verifier); err != nil {
		t.Fatalf("Remove moved member: %v", err)
	}
	if !l.Has(ownerTwo) || l.Has(verifier) || l.Len() != 1 {
		t.Fatalf("unexpected membership: %v", l.Members())
	}
	wantReason(t, l.Require(stranger), "LockedFund: Only admin can call this.")
	if err := l.Require(stranger); !errors.Is(err, abort.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestList_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	l, err := NewList(lfMessage, []common.Address{ownerOne})
	if err != nil {
		t.Fatalf("NewList: %v", err)
	}
	c := l.Clone()
	if err := c.Add(ownerTwo); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if l.Has(ownerTwo) {
		t.Fatalf("clone mutation leaked into original")
	}
}
