package asset

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexledger/pkg/app/core/state"
)

// PayableHook is invoked when native coin arrives at the address it is
// registered for. A non-nil error rejects the payment.
type PayableHook func(from common.Address, amount *uint256.Int) error

// NativeBank holds host-level wallets of the native coin. Like ERC20 it
// records into a shared journal and is not safe for concurrent use.
type NativeBank struct {
	journal  *state.Journal
	balances map[common.Address]*uint256.Int
	hooks    map[common.Address]PayableHook
}

func NewNativeBank(j *state.Journal) *NativeBank {
	return &NativeBank{
		journal:  j,
		balances: make(map[common.Address]*uint256.Int),
		hooks:    make(map[common.Address]PayableHook),
	}
}

// SetPayableHook registers (or with nil, removes) the receive hook for addr.
func (b *NativeBank) SetPayableHook(addr common.Address, h PayableHook) {
	if h == nil {
		delete(b.hooks, addr)
		return
	}
	b.hooks[addr] = h
}

func (b *NativeBank) BalanceOf(owner common.Address) *uint256.Int {
	return readBalance(b.balances, owner)
}

// Mint creates coin out of thin air. Genesis only.
func (b *NativeBank) Mint(to common.Address, amount *uint256.Int) error {
	next, overflow := new(uint256.Int).AddOverflow(b.BalanceOf(to), amount)
	if overflow {
		return fmt.Errorf("mint to %s overflows", to.Hex())
	}
	b.set(to, next)
	return nil
}

// Send moves amount from one wallet to another and then runs the
// recipient's payable hook. If the hook fails the whole send is undone.
func (b *NativeBank) Send(from, to common.Address, amount *uint256.Int) error {
	fromBal := b.BalanceOf(from)
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal.Dec(), amount.Dec())
	}

	snap := b.journal.Snapshot()
	b.set(from, new(uint256.Int).Sub(fromBal, amount))
	b.set(to, new(uint256.Int).Add(b.BalanceOf(to), amount))

	if h, ok := b.hooks[to]; ok {
		if err := h(from, amount); err != nil {
			b.journal.RevertToSnapshot(snap)
			return fmt.Errorf("%w: %w", ErrSendRejected, err)
		}
	}
	return nil
}

func (b *NativeBank) set(owner common.Address, v *uint256.Int) {
	prev := b.BalanceOf(owner)
	writeBalance(b.balances, owner, v)
	b.journal.Append(func() { writeBalance(b.balances, owner, prev) })
}

// Snapshot returns every non-zero wallet, sorted by owner.
func (b *NativeBank) Snapshot() []Holding {
	return holdings(b.balances)
}

// Restore replaces all wallets without journaling. Hooks are kept.
func (b *NativeBank) Restore(hs []Holding) {
	b.balances = make(map[common.Address]*uint256.Int, len(hs))
	for _, h := range hs {
		if h.Amount != nil {
			writeBalance(b.balances, h.Owner, h.Amount)
		}
	}
}
