package asset

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexledger/pkg/app/core/state"
)

// TransferHook runs after an ERC20 balance move has been applied. Returning
// an error undoes the move (and anything the hook did through the journal).
type TransferHook func(from, to common.Address, amount *uint256.Int) error

// TokenLog is a Transfer or Approval event emitted by an ERC20.
type TokenLog struct {
	Kind  string         `json:"kind"` // "Transfer" or "Approval"
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *uint256.Int   `json:"value"`
}

// ERC20 is an in-memory fungible token with the standard transfer and
// allowance semantics. It is not safe for concurrent use; callers serialize
// access the same way they serialize the exchange.
type ERC20 struct {
	journal *state.Journal

	address     common.Address
	name        string
	symbol      string
	decimals    uint8
	totalSupply *uint256.Int

	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
	logs       []TokenLog

	hook TransferHook
}

// NewERC20 deploys a token at address and mints supply to owner. All
// mutations are recorded in j so an enclosing revert also undoes token moves.
func NewERC20(j *state.Journal, address common.Address, name, symbol string, decimals uint8, supply *uint256.Int, owner common.Address) *ERC20 {
	t := &ERC20{
		journal:     j,
		address:     address,
		name:        name,
		symbol:      symbol,
		decimals:    decimals,
		totalSupply: supply.Clone(),
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
	}
	writeBalance(t.balances, owner, supply)
	t.logs = append(t.logs, TokenLog{Kind: "Transfer", From: common.Address{}, To: owner, Value: supply.Clone()})
	return t
}

func (t *ERC20) Address() common.Address { return t.address }
func (t *ERC20) Name() string            { return t.name }
func (t *ERC20) Symbol() string          { return t.symbol }
func (t *ERC20) Decimals() uint8         { return t.decimals }

func (t *ERC20) TotalSupply() *uint256.Int { return t.totalSupply.Clone() }

// SetTransferHook installs a callback run on every successful balance move.
func (t *ERC20) SetTransferHook(h TransferHook) {
	t.hook = h
}

func (t *ERC20) BalanceOf(owner common.Address) *uint256.Int {
	return readBalance(t.balances, owner)
}

func (t *ERC20) Allowance(owner, spender common.Address) *uint256.Int {
	if m, ok := t.allowances[owner]; ok {
		if v, ok := m[spender]; ok {
			return v.Clone()
		}
	}
	return new(uint256.Int)
}

func (t *ERC20) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return fmt.Errorf("approve: %w", ErrZeroAddress)
	}
	t.setAllowance(owner, spender, amount)
	t.log(TokenLog{Kind: "Approval", From: owner, To: spender, Value: amount.Clone()})
	return nil
}

func (t *ERC20) Transfer(from, to common.Address, amount *uint256.Int) error {
	return t.move(from, to, amount)
}

// TransferFrom moves amount out of from on behalf of spender, consuming
// allowance. Either both the allowance and the balances change, or neither.
func (t *ERC20) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	allowed := t.Allowance(from, spender)
	if allowed.Lt(amount) {
		return fmt.Errorf("%w: allowed %s, need %s", ErrInsufficientAllowance, allowed.Dec(), amount.Dec())
	}
	snap := t.journal.Snapshot()
	t.setAllowance(from, spender, new(uint256.Int).Sub(allowed, amount))
	if err := t.move(from, to, amount); err != nil {
		t.journal.RevertToSnapshot(snap)
		return err
	}
	return nil
}

func (t *ERC20) move(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("transfer: %w", ErrZeroAddress)
	}
	fromBal := t.BalanceOf(from)
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal.Dec(), amount.Dec())
	}

	snap := t.journal.Snapshot()
	t.setBalance(from, new(uint256.Int).Sub(fromBal, amount))
	// Sum of balances equals total supply, so this cannot overflow.
	t.setBalance(to, new(uint256.Int).Add(t.BalanceOf(to), amount))
	t.log(TokenLog{Kind: "Transfer", From: from, To: to, Value: amount.Clone()})

	if t.hook != nil {
		if err := t.hook(from, to, amount); err != nil {
			t.journal.RevertToSnapshot(snap)
			return fmt.Errorf("transfer hook: %w", err)
		}
	}
	return nil
}

func (t *ERC20) setBalance(owner common.Address, v *uint256.Int) {
	prev := t.BalanceOf(owner)
	writeBalance(t.balances, owner, v)
	t.journal.Append(func() { writeBalance(t.balances, owner, prev) })
}

func (t *ERC20) setAllowance(owner, spender common.Address, v *uint256.Int) {
	prev := t.Allowance(owner, spender)
	t.writeAllowance(owner, spender, v)
	t.journal.Append(func() { t.writeAllowance(owner, spender, prev) })
}

func (t *ERC20) writeAllowance(owner, spender common.Address, v *uint256.Int) {
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		t.allowances[owner] = m
	}
	writeBalance(m, spender, v)
	if len(m) == 0 {
		delete(t.allowances, owner)
	}
}

func (t *ERC20) log(l TokenLog) {
	n := len(t.logs)
	t.logs = append(t.logs, l)
	t.journal.Append(func() { t.logs = t.logs[:n] })
}

// Logs returns the token's Transfer and Approval events, oldest first.
func (t *ERC20) Logs() []TokenLog {
	out := make([]TokenLog, len(t.logs))
	copy(out, t.logs)
	return out
}

// AllowanceEntry is one (owner, spender) allowance, used in snapshots.
type AllowanceEntry struct {
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

// ERC20State is the persisted form of a token.
type ERC20State struct {
	Address     common.Address   `json:"address"`
	Name        string           `json:"name"`
	Symbol      string           `json:"symbol"`
	Decimals    uint8            `json:"decimals"`
	TotalSupply *uint256.Int     `json:"totalSupply"`
	Balances    []Holding        `json:"balances"`
	Allowances  []AllowanceEntry `json:"allowances"`
}

// Snapshot captures balances and allowances. Logs are not persisted.
func (t *ERC20) Snapshot() ERC20State {
	s := ERC20State{
		Address:     t.address,
		Name:        t.name,
		Symbol:      t.symbol,
		Decimals:    t.decimals,
		TotalSupply: t.totalSupply.Clone(),
		Balances:    holdings(t.balances),
	}
	for owner, m := range t.allowances {
		for spender, amt := range m {
			s.Allowances = append(s.Allowances, AllowanceEntry{Owner: owner, Spender: spender, Amount: amt.Clone()})
		}
	}
	sort.Slice(s.Allowances, func(i, j int) bool {
		a, b := s.Allowances[i], s.Allowances[j]
		if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Spender[:], b.Spender[:]) < 0
	})
	return s
}

// RestoreERC20 rebuilds a token from a snapshot.
func RestoreERC20(j *state.Journal, s ERC20State) *ERC20 {
	t := &ERC20{
		journal:     j,
		address:     s.Address,
		name:        s.Name,
		symbol:      s.Symbol,
		decimals:    s.Decimals,
		totalSupply: new(uint256.Int),
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
	}
	if s.TotalSupply != nil {
		t.totalSupply.Set(s.TotalSupply)
	}
	for _, h := range s.Balances {
		if h.Amount != nil {
			writeBalance(t.balances, h.Owner, h.Amount)
		}
	}
	for _, a := range s.Allowances {
		if a.Amount != nil {
			t.writeAllowance(a.Owner, a.Spender, a.Amount)
		}
	}
	return t
}
