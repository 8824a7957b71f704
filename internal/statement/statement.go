// Package statement builds point-in-time reports of the sale and the locked-fund ledger and
// archives them in a blob store.
package statement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Sovryn-Origins/origins/internal/blobstore"
	"github.com/Sovryn-Origins/origins/internal/idempotency"
	"github.com/Sovryn-Origins/origins/internal/machine"
)

const (
	Version   = "v1"
	keyPrefix = "statements/"
)

var (
	ErrInvalidInput = errors.New("statement: invalid input")
	ErrNotFound     = errors.New("statement: not found")
)

// Statement is the state after the journal entry Seq. ID commits to that position, so two
// statements built from the same journal prefix share an ID and an archive key.
type Statement struct {
	Version       string      `json:"version"`
	ID            common.Hash `json:"id"`
	Seq           uint64      `json:"seq"`
	Applied       uint64      `json:"applied"`
	LastCommandID common.Hash `json:"lastCommandId"`
	At            uint64      `json:"at"`
	Sale          SaleView    `json:"sale"`
	Vault         VaultView   `json:"vault"`
	Roles         RolesView   `json:"roles"`
}

// Build reads the machine. seq is the journal sequence the machine has been replayed to.
func Build(m *machine.Machine, seq uint64) Statement {
	var st Statement
	m.View(func(s machine.State) {
		st = Statement{
			Version:       Version,
			ID:            idempotency.StatementIDV1(s.LastCommandID, seq),
			Seq:           seq,
			Applied:       s.Applied,
			LastCommandID: s.LastCommandID,
			At:            s.At,
			Sale:          NewSaleView(s.Sale),
			Vault:         NewVaultView(s.Vault),
			Roles:         NewRolesView(s),
		}
	})
	return st
}

// Key is the archive key. The zero-padded sequence keeps keys in journal order.
func Key(seq uint64, id common.Hash) string {
	return fmt.Sprintf("%s%020d-%s.json", keyPrefix, seq, strings.TrimPrefix(id.Hex(), "0x"))
}

func parseKeySeq(key string) (uint64, bool) {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok || len(rest) < 21 || rest[20] != '-' {
		return 0, false
	}
	seq, err := strconv.ParseUint(rest[:20], 10, 64)
	return seq, err == nil
}

// Archive stores st unless a statement with the same key exists. It reports whether it wrote.
func Archive(ctx context.Context, store blobstore.Store, st Statement) (key string, written bool, err error) {
	if store == nil {
		return "", false, fmt.Errorf("%w: nil store", ErrInvalidInput)
	}
	if st.Version != Version || st.ID == (common.Hash{}) {
		return "", false, fmt.Errorf("%w: statement not built", ErrInvalidInput)
	}
	body, err := json.Marshal(st)
	if err != nil {
		return "", false, fmt.Errorf("statement: marshal: %w", err)
	}

	key = Key(st.Seq, st.ID)
	err = store.Put(ctx, key, body, blobstore.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"statement-id": st.ID.Hex(),
			"seq":          strconv.FormatUint(st.Seq, 10),
		},
		IfAbsent: true,
	})
	if errors.Is(err, blobstore.ErrExists) {
		return key, false, nil
	}
	if err != nil {
		return "", false, err
	}
	return key, true, nil
}

// Load reads an archived statement by key.
func Load(ctx context.Context, store blobstore.Store, key string) (Statement, error) {
	obj, err := store.Get(ctx, key)
	if errors.Is(err, blobstore.ErrNotFound) {
		return Statement{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Statement{}, err
	}
	var st Statement
	if err := json.Unmarshal(obj.Data, &st); err != nil {
		return Statement{}, fmt.Errorf("statement: decode %s: %w", key, err)
	}
	return st, nil
}

// Latest loads the archived statement with the highest sequence.
func Latest(ctx context.Context, store blobstore.Store) (Statement, error) {
	keys, err := store.List(ctx, keyPrefix)
	if err != nil {
		return Statement{}, err
	}
	var (
		best    string
		bestSeq uint64
	)
	for _, k := range keys {
		seq, ok := parseKeySeq(k)
		if ok && (best == "" || seq >= bestSeq) {
			best, bestSeq = k, seq
		}
	}
	if best == "" {
		return Statement{}, ErrNotFound
	}
	return Load(ctx, store, best)
}
