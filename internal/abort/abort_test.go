package abort

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_KindAndReason(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		kind error
	}{
		{"unauthorized", Unauthorized("LockedFund: Only admin can call this."), ErrUnauthorized},
		{"invalid", Invalid("LockedFund: Invalid Address."), ErrInvalid},
		{"temporal", Temporal("OriginsBase: Sale ended."), ErrTemporal},
		{"precondition", Precondition("LockedFund: Cliff and/or Duration not set."), ErrPrecondition},
		{"capacity", Capacity("OriginsBase: User already bought maximum allowed."), ErrCapacity},
		{"transfer", Transfer("Token: insufficient balance."), ErrTransfer},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if !errors.Is(tc.err, tc.kind) {
				t.Fatalf("errors.Is(%v, %v) = false", tc.err, tc.kind)
			}
			wrapped := fmt.Errorf("apply: %w", tc.err)
			if got := Reason(wrapped); got != tc.err.Error() {
				t.Fatalf("Reason: got %q want %q", got, tc.err.Error())
			}
			if !IsRevert(wrapped) {
				t.Fatalf("IsRevert: got false want true")
			}
		})
	}
}

func TestReason_ForeignError(t *testing.T) {
	t.Parallel()

	err := errors.New("dial tcp: refused")
	if got := Reason(err); got != "dial tcp: refused" {
		t.Fatalf("Reason: got %q", got)
	}
	if IsRevert(err) {
		t.Fatalf("IsRevert: got true want false")
	}
	if Reason(nil) != "" {
		t.Fatalf("Reason(nil) should be empty")
	}
}
