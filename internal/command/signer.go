package command

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidPrivateKey = errors.New("command: invalid private key")
	ErrInvalidSignature  = errors.New("command: invalid signature")
)

// Signer signs command envelopes for a single caller address.
type Signer interface {
	Address() common.Address
	Sign(e Envelope) (Envelope, error)
}

type LocalSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	var addr common.Address
	if key != nil {
		addr = crypto.PubkeyToAddress(key.PublicKey)
	}
	return &LocalSigner{key: key, addr: addr}
}

func (s *LocalSigner) Address() common.Address { return s.addr }

// Sign sets the caller to the signer's address and signs the command id.
func (s *LocalSigner) Sign(e Envelope) (Envelope, error) {
	if s.key == nil {
		return Envelope{}, ErrInvalidPrivateKey
	}
	e.Caller = s.addr
	id, err := e.ID()
	if err != nil {
		return Envelope{}, err
	}
	sig, err := crypto.Sign(id[:], s.key)
	if err != nil {
		return Envelope{}, fmt.Errorf("command: sign: %w", err)
	}
	e.Signature = sig
	return e, nil
}

// Recover returns the address that signed e.
func (e Envelope) Recover() (common.Address, error) {
	if len(e.Signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: want %d bytes", ErrInvalidSignature, crypto.SignatureLength)
	}
	id, err := e.ID()
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(id[:], e.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature checks that e is signed by its caller.
func (e Envelope) VerifySignature() error {
	addr, err := e.Recover()
	if err != nil {
		return err
	}
	if addr != e.Caller {
		return fmt.Errorf("%w: signed by %s, caller is %s", ErrInvalidSignature, addr, e.Caller)
	}
	return nil
}

// ParsePrivateKeyHex parses a 32-byte secp256k1 key with optional 0x prefix. The returned error
// does not include key material.
func ParsePrivateKeyHex(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, ErrInvalidPrivateKey
	}
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, ErrInvalidPrivateKey
	}
	return key, nil
}
