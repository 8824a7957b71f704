package idempotency

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

const commandIDPrefixV1 = "origins-command"

// CommandIDV1 computes the canonical command id:
//
//	commandId = keccak256("origins-command" || payload)
//
// payload is the canonical (signature-free) encoding of the command envelope. The id is both
// the dedupe key of the journal and the digest signed by the submitter.
func CommandIDV1(payload []byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(commandIDPrefixV1))
	_, _ = h.Write(payload)
	return common.BytesToHash(h.Sum(nil))
}

// StatementIDV1 names an archived statement by the journal position it was built at:
// keccak256("origins-statement" || lastCommandID || seqBE8).
func StatementIDV1(lastCommandID common.Hash, seq uint64) common.Hash {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte("origins-statement"))
	_, _ = h.Write(lastCommandID[:])
	_, _ = h.Write(b[:])
	return common.BytesToHash(h.Sum(nil))
}
