package events

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexledger/pkg/app/core/state"
)

// Kind names an event type as observers see it.
type Kind string

const (
	KindDeposit     Kind = "Deposit"
	KindWithdraw    Kind = "Withdraw"
	KindOrder       Kind = "Order"
	KindTrade       Kind = "Trade"
	KindCancelOrder Kind = "CancelOrder"
)

// Event is implemented by every exchange event payload.
type Event interface {
	Kind() Kind
}

// Deposit: Balance is the depositor's entry after the credit.
type Deposit struct {
	Token   common.Address `json:"token"`
	User    common.Address `json:"user"`
	Amount  *uint256.Int   `json:"amount"`
	Balance *uint256.Int   `json:"balance"`
}

// Withdraw: Balance is the entry after the debit.
type Withdraw struct {
	Token   common.Address `json:"token"`
	User    common.Address `json:"user"`
	Amount  *uint256.Int   `json:"amount"`
	Balance *uint256.Int   `json:"balance"`
}

type Order struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenBuy   common.Address `json:"tokenBuy"`
	AmountBuy  *uint256.Int   `json:"amountBuy"`
	TokenSell  common.Address `json:"tokenSell"`
	AmountSell *uint256.Int   `json:"amountSell"`
	Timestamp  int64          `json:"timestamp"`
}

// Trade: User is the maker, UserFill the taker. Timestamp is the fill time.
type Trade struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenBuy   common.Address `json:"tokenBuy"`
	AmountBuy  *uint256.Int   `json:"amountBuy"`
	TokenSell  common.Address `json:"tokenSell"`
	AmountSell *uint256.Int   `json:"amountSell"`
	UserFill   common.Address `json:"userFill"`
	Timestamp  int64          `json:"timestamp"`
}

// CancelOrder: Timestamp is the cancellation time.
type CancelOrder struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenBuy   common.Address `json:"tokenBuy"`
	AmountBuy  *uint256.Int   `json:"amountBuy"`
	TokenSell  common.Address `json:"tokenSell"`
	AmountSell *uint256.Int   `json:"amountSell"`
	Timestamp  int64          `json:"timestamp"`
}

func (Deposit) Kind() Kind     { return KindDeposit }
func (Withdraw) Kind() Kind    { return KindWithdraw }
func (Order) Kind() Kind       { return KindOrder }
func (Trade) Kind() Kind       { return KindTrade }
func (CancelOrder) Kind() Kind { return KindCancelOrder }

// Envelope is a logged event with its position in the log.
type Envelope struct {
	Seq   uint64
	Event Event
}

type envelopeJSON struct {
	Seq  uint64          `json:"seq"`
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(e.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeJSON{Seq: e.Seq, Kind: e.Event.Kind(), Data: data})
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	var raw envelopeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var ev Event
	switch raw.Kind {
	case KindDeposit:
		var v Deposit
		if err := json.Unmarshal(raw.Data, &v); err != nil {
			return err
		}
		ev = v
	case KindWithdraw:
		var v Withdraw
		if err := json.Unmarshal(raw.Data, &v); err != nil {
			return err
		}
		ev = v
	case KindOrder:
		var v Order
		if err := json.Unmarshal(raw.Data, &v); err != nil {
			return err
		}
		ev = v
	case KindTrade:
		var v Trade
		if err := json.Unmarshal(raw.Data, &v); err != nil {
			return err
		}
		ev = v
	case KindCancelOrder:
		var v CancelOrder
		if err := json.Unmarshal(raw.Data, &v); err != nil {
			return err
		}
		ev = v
	default:
		return fmt.Errorf("unknown event kind: %q", raw.Kind)
	}
	e.Seq = raw.Seq
	e.Event = ev
	return nil
}

// Log is the append-only event record. Appends are journaled so a reverted
// operation leaves no trace; Pending holds what the current operation emitted
// until the exchange commits it.
type Log struct {
	journal *state.Journal
	entries []Envelope
	pending int // index of the first entry not yet handed out by TakePending
}

// NewLog creates an empty log recording undo entries into j.
func NewLog(j *state.Journal) *Log {
	return &Log{journal: j}
}

// Append adds an event and returns its sequence number (starting at 1).
func (l *Log) Append(ev Event) uint64 {
	seq := uint64(len(l.entries)) + 1
	l.entries = append(l.entries, Envelope{Seq: seq, Event: ev})
	l.journal.Append(func() { l.entries = l.entries[:seq-1] })
	return seq
}

// Len returns the number of logged events.
func (l *Log) Len() int {
	return len(l.entries)
}

// Since returns events with Seq > seq, oldest first.
func (l *Log) Since(seq uint64) []Envelope {
	if seq >= uint64(len(l.entries)) {
		return nil
	}
	out := make([]Envelope, len(l.entries)-int(seq))
	copy(out, l.entries[seq:])
	return out
}

// TakePending returns events appended since the previous call.
func (l *Log) TakePending() []Envelope {
	if l.pending > len(l.entries) {
		l.pending = len(l.entries)
	}
	out := make([]Envelope, len(l.entries)-l.pending)
	copy(out, l.entries[l.pending:])
	l.pending = len(l.entries)
	return out
}

// Load installs persisted envelopes without journaling. They must be
// contiguous starting at Seq 1.
func (l *Log) Load(envs []Envelope) error {
	for i, e := range envs {
		if e.Seq != uint64(len(l.entries))+1 {
			return fmt.Errorf("event %d: seq %d out of order", i, e.Seq)
		}
		l.entries = append(l.entries, e)
	}
	l.pending = len(l.entries)
	return nil
}
