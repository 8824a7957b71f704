// Package roster implements flat access-control lists: the owner/verifier roster of the sale
// and the admin list of the locked-fund vault.
package roster

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/Sovryn-Origins/origins/internal/abort"
)

// Messages are the revert reasons of one list.
type Messages struct {
	Unauthorized   string
	InvalidAddress string
	AlreadyMember  string
	NotMember      string
}

// List is an ordered set of addresses. The zero address is never a member.
type List struct {
	msgs    Messages
	members []common.Address
	index   map[common.Address]int
}

// NewList seeds the list. A zero or duplicate entry fails the whole construction.
func NewList(msgs Messages, initial []common.Address) (*List, error) {
	l := &List{
		msgs:  msgs,
		index: make(map[common.Address]int, len(initial)),
	}
	for _, addr := range initial {
		if err := l.Add(addr); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *List) Has(addr common.Address) bool {
	_, ok := l.index[addr]
	return ok
}

func (l *List) Len() int { return len(l.members) }

// Members returns the members in insertion order (removal moves the last member into the gap).
func (l *List) Members() []common.Address {
	out := make([]common.Address, len(l.members))
	copy(out, l.members)
	return out
}

// Require fails unless caller is a member.
func (l *List) Require(caller common.Address) error {
	if !l.Has(caller) {
		return abort.Unauthorized(l.msgs.Unauthorized)
	}
	return nil
}

func (l *List) Add(addr common.Address) error {
	if addr == (common.Address{}) {
		return abort.Invalid(l.msgs.InvalidAddress)
	}
	if l.Has(addr) {
		return abort.Invalid(l.msgs.AlreadyMember)
	}
	l.index[addr] = len(l.members)
	l.members = append(l.members, addr)
	return nil
}

func (l *List) Remove(addr common.Address) error {
	i, ok := l.index[addr]
	if !ok {
		return abort.Invalid(l.msgs.NotMember)
	}
	last := len(l.members) - 1
	if i != last {
		moved := l.members[last]
		l.members[i] = moved
		l.index[moved] = i
	}
	l.members = l.members[:last]
	delete(l.index, addr)
	return nil
}

// Clone returns an independent copy.
func (l *List) Clone() *List {
	out := &List{
		msgs:    l.msgs,
		members: make([]common.Address, len(l.members)),
		index:   make(map[common.Address]int, len(l.index)),
	}
	copy(out.members, l.members)
	for k, v := range l.index {
		out.index[k] = v
	}
	return out
}
