package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexledger/pkg/app/core/state"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the entry.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrBalanceOverflow is returned when a credit would exceed 2^256-1.
	ErrBalanceOverflow = errors.New("balance overflow")
)

// Key identifies a balance entry: which asset, held by whom.
type Key struct {
	Asset common.Address
	Owner common.Address
}

// Entry is a materialized balance entry.
type Entry struct {
	Asset   common.Address `json:"asset"`
	Owner   common.Address `json:"owner"`
	Balance *uint256.Int   `json:"balance"`
}

// Ledger is the per-asset, per-owner balance table held in custody by the
// exchange. Absent keys read as zero. Mutations are journaled.
type Ledger struct {
	journal  *state.Journal
	balances map[Key]*uint256.Int
	touched  map[Key]struct{}
}

// New creates an empty ledger recording undo entries into j.
func New(j *state.Journal) *Ledger {
	return &Ledger{
		journal:  j,
		balances: make(map[Key]*uint256.Int),
		touched:  make(map[Key]struct{}),
	}
}

// BalanceOf returns a copy of the entry, zero for unknown keys.
func (l *Ledger) BalanceOf(asset, owner common.Address) *uint256.Int {
	if bal, ok := l.balances[Key{asset, owner}]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

// Credit adds amount to the entry and returns the new balance.
func (l *Ledger) Credit(asset, owner common.Address, amount *uint256.Int) (*uint256.Int, error) {
	key := Key{asset, owner}
	cur := l.BalanceOf(asset, owner)
	next, overflow := new(uint256.Int).AddOverflow(cur, amount)
	if overflow {
		return nil, fmt.Errorf("%w: %s + %s", ErrBalanceOverflow, cur.Dec(), amount.Dec())
	}
	l.set(key, cur, next)
	return next.Clone(), nil
}

// Debit subtracts amount from the entry and returns the new balance. It fails
// without touching the entry if the balance is too small.
func (l *Ledger) Debit(asset, owner common.Address, amount *uint256.Int) (*uint256.Int, error) {
	key := Key{asset, owner}
	cur := l.BalanceOf(asset, owner)
	next, underflow := new(uint256.Int).SubOverflow(cur, amount)
	if underflow {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, cur.Dec(), amount.Dec())
	}
	l.set(key, cur, next)
	return next.Clone(), nil
}

// Transfer moves amount between two owners of the same asset.
func (l *Ledger) Transfer(asset, from, to common.Address, amount *uint256.Int) error {
	snap := l.journal.Snapshot()
	if _, err := l.Debit(asset, from, amount); err != nil {
		return err
	}
	if _, err := l.Credit(asset, to, amount); err != nil {
		l.journal.RevertToSnapshot(snap)
		return err
	}
	return nil
}

func (l *Ledger) set(key Key, prev, next *uint256.Int) {
	l.write(key, next)
	l.touched[key] = struct{}{}
	l.journal.Append(func() { l.write(key, prev) })
}

func (l *Ledger) write(key Key, v *uint256.Int) {
	if v.IsZero() {
		delete(l.balances, key)
		return
	}
	l.balances[key] = v.Clone()
}

// Total returns the sum of all entries for an asset.
func (l *Ledger) Total(asset common.Address) (*uint256.Int, error) {
	sum := new(uint256.Int)
	for key, bal := range l.balances {
		if key.Asset != asset {
			continue
		}
		if _, overflow := sum.AddOverflow(sum, bal); overflow {
			return nil, fmt.Errorf("%w: total of %s", ErrBalanceOverflow, asset.Hex())
		}
	}
	return sum, nil
}

// Assets returns every asset that has at least one non-zero entry, sorted.
func (l *Ledger) Assets() []common.Address {
	seen := make(map[common.Address]struct{})
	for key := range l.balances {
		seen[key.Asset] = struct{}{}
	}
	out := make([]common.Address, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Entries returns all non-zero entries sorted by (asset, owner).
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, 0, len(l.balances))
	for key, bal := range l.balances {
		out = append(out, Entry{Asset: key.Asset, Owner: key.Owner, Balance: bal.Clone()})
	}
	sortEntries(out)
	return out
}

// Touched returns the current value of every entry mutated since the last
// ClearTouched, including entries that dropped to zero.
func (l *Ledger) Touched() []Entry {
	out := make([]Entry, 0, len(l.touched))
	for key := range l.touched {
		out = append(out, Entry{Asset: key.Asset, Owner: key.Owner, Balance: l.BalanceOf(key.Asset, key.Owner)})
	}
	sortEntries(out)
	return out
}

// ClearTouched forgets the touched set.
func (l *Ledger) ClearTouched() {
	l.touched = make(map[Key]struct{})
}

// Load installs entries without journaling. Used when restoring from storage.
func (l *Ledger) Load(entries []Entry) {
	for _, e := range entries {
		if e.Balance == nil {
			continue
		}
		l.write(Key{e.Asset, e.Owner}, e.Balance)
	}
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		if c := bytes.Compare(es[i].Asset[:], es[j].Asset[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(es[i].Owner[:], es[j].Owner[:]) < 0
	})
}
