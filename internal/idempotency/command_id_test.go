package idempotency

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestCommandIDV1_MatchesKeccakOfPrefixedPayload(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"version":"v1","kind":"buy"}`)
	got := CommandIDV1(payload)
	want := crypto.Keccak256Hash(append([]byte("origins-command"), payload...))
	if got != want {
		t.Fatalf("id: got %s want %s", got, want)
	}
	if CommandIDV1([]byte(`{"version":"v1","kind":"claim"}`)) == got {
		t.Fatalf("distinct payloads must not collide")
	}
}

func TestStatementIDV1(t *testing.T) {
	t.Parallel()

	last := common.HexToHash("0x01")
	a := StatementIDV1(last, 1)
	b := StatementIDV1(last, 2)
	if a == b {
		t.Fatalf("seq must change the id")
	}
	want := crypto.Keccak256Hash([]byte("origins-statement"), last[:], []byte{0, 0, 0, 0, 0, 0, 0, 1})
	if a != want {
		t.Fatalf("id: got %s want %s", a, want)
	}
}
