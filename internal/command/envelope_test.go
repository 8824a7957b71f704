package command

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Sovryn-Origins/origins/internal/units"
)

const testKeyHex = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var caller = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func TestNew_ValidatesAndEncodesArgs(t *testing.T) {
	t.Parallel()

	e, err := New(KindBuy, caller, 1_700_000_000, 7, BuyArgs{TierID: 2, Amount: NewAmount(units.New(500))})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := string(e.Args); got != `{"tierId":2,"amount":"500"}` {
		t.Fatalf("args: got %s", got)
	}
	var args BuyArgs
	if err := e.DecodeArgs(&args); err != nil {
		t.Fatalf("DecodeArgs: %v", err)
	}
	if args.TierID != 2 || args.Amount.Int().Uint64() != 500 {
		t.Fatalf("args: got %+v", args)
	}

	if _, err := New("mint", caller, 1, 0, nil); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := New(KindBuy, common.Address{}, 1, 0, nil); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
	if _, err := New(KindBuy, caller, 0, 0, nil); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope for zero at, got %v", err)
	}
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	raw := `{"version":"v1","kind":"buy","caller":"0x00000000000000000000000000000000000000a1","at":1,"nonce":0,"extra":1}`
	if _, err := Decode([]byte(raw)); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}

	e, err := New(KindClaim, caller, 5, 0, map[string]any{"tierId": 1, "user": caller, "bogus": true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var args ClaimArgs
	if err := e.DecodeArgs(&args); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestID_IgnoresSignatureAndWhitespace(t *testing.T) {
	t.Parallel()

	a, err := New(KindCloseSaleOf, caller, 10, 1, TierArgs{TierID: 3})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b := a
	b.Args = json.RawMessage("{ \"tierId\" : 3 }")
	b.Signature = []byte{1, 2, 3}

	ida, err := a.ID()
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	idb, err := b.ID()
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	if ida != idb {
		t.Fatalf("ids differ: %s vs %s", ida, idb)
	}

	c := a
	c.Nonce = 2
	idc, _ := c.ID()
	if idc == ida {
		t.Fatalf("nonce must change the id")
	}
}

func TestLocalSigner_SignAndVerify(t *testing.T) {
	t.Parallel()

	key, err := ParsePrivateKeyHex(testKeyHex)
	if err != nil {
		t.Fatalf("ParsePrivateKeyHex: %v", err)
	}
	s := NewLocalSigner(key)

	e, err := New(KindCreateVesting, caller, 10, 0, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	signed, err := s.Sign(e)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if signed.Caller != s.Address() {
		t.Fatalf("caller: got %s want %s", signed.Caller, s.Address())
	}
	if err := signed.VerifySignature(); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}

	raw, err := json.Marshal(signed)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := decoded.VerifySignature(); err != nil {
		t.Fatalf("VerifySignature after roundtrip: %v", err)
	}

	forged := signed
	forged.Caller = caller
	if err := forged.VerifySignature(); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	unsigned := e
	if err := unsigned.VerifySignature(); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for missing signature, got %v", err)
	}
}

func TestParsePrivateKeyHex_SanitizesErrors(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "0x", "zz", "0x" + strings.Repeat("ab", 31)} {
		_, err := ParsePrivateKeyHex(in)
		if !errors.Is(err, ErrInvalidPrivateKey) {
			t.Fatalf("%q: expected ErrInvalidPrivateKey, got %v", in, err)
		}
		if err.Error() != ErrInvalidPrivateKey.Error() {
			t.Fatalf("error carries input: %v", err)
		}
	}
}

func TestAmount_JSON(t *testing.T) {
	t.Parallel()

	var a Amount
	if err := json.Unmarshal([]byte(`"115792089237316195423570985008687907853269984665640564039457584007913129639935"`), &a); err != nil {
		t.Fatalf("Unmarshal max: %v", err)
	}
	if err := json.Unmarshal([]byte(`12`), &a); err == nil {
		t.Fatalf("bare number must be rejected")
	}
	if err := json.Unmarshal([]byte(`"-1"`), &a); err == nil {
		t.Fatalf("negative must be rejected")
	}
	var nilAmount *Amount
	if !nilAmount.Int().IsZero() {
		t.Fatalf("nil amount must read as zero")
	}
}
