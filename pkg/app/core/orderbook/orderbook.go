package orderbook

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexledger/pkg/app/core/state"
)

var (
	ErrNotFound        = errors.New("order not found")
	ErrAlreadyFilled   = errors.New("order already filled")
	ErrAlreadyCanceled = errors.New("order already canceled")
)

// Status represents the lifecycle state of an order.
// Filled and Canceled are terminal and mutually exclusive.
type Status uint8

const (
	Open Status = iota
	Filled
	Canceled
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Filled:
		return "filled"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Order is an all-or-nothing offer: User gives AmountSell of TokenSell in
// exchange for AmountBuy of TokenBuy. Immutable once created.
type Order struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenBuy   common.Address `json:"tokenBuy"`
	AmountBuy  *uint256.Int   `json:"amountBuy"`
	TokenSell  common.Address `json:"tokenSell"`
	AmountSell *uint256.Int   `json:"amountSell"`
	Timestamp  int64          `json:"timestamp"` // Unix seconds
}

func (o *Order) clone() *Order {
	cp := *o
	cp.AmountBuy = o.AmountBuy.Clone()
	cp.AmountSell = o.AmountSell.Clone()
	return &cp
}

// Record pairs an order with its status, used for persistence.
type Record struct {
	Order  *Order `json:"order"`
	Status Status `json:"status"`
}

// Book stores orders by id together with the filled and canceled sets.
// Ids start at 1 and are never reused.
type Book struct {
	journal *state.Journal
	orders  map[uint64]*Order
	status  map[uint64]Status
	count   uint64
	touched map[uint64]struct{}
}

// NewBook creates an empty book recording undo entries into j.
func NewBook(j *state.Journal) *Book {
	return &Book{
		journal: j,
		orders:  make(map[uint64]*Order),
		status:  make(map[uint64]Status),
		touched: make(map[uint64]struct{}),
	}
}

// Count returns the id of the most recently created order (0 if none).
func (b *Book) Count() uint64 {
	return b.count
}

// Create stores a new order under the next id.
func (b *Book) Create(user, tokenBuy common.Address, amountBuy *uint256.Int, tokenSell common.Address, amountSell *uint256.Int, timestamp int64) *Order {
	prevCount := b.count
	b.count++
	o := &Order{
		ID:         b.count,
		User:       user,
		TokenBuy:   tokenBuy,
		AmountBuy:  amountBuy.Clone(),
		TokenSell:  tokenSell,
		AmountSell: amountSell.Clone(),
		Timestamp:  timestamp,
	}
	b.orders[o.ID] = o
	b.touched[o.ID] = struct{}{}
	b.journal.Append(func() {
		delete(b.orders, o.ID)
		b.count = prevCount
	})
	return o.clone()
}

// Get returns a copy of the order.
func (b *Book) Get(id uint64) (*Order, bool) {
	o, ok := b.orders[id]
	if !ok {
		return nil, false
	}
	return o.clone(), true
}

// Status returns the status of an existing order. Unknown ids report Open;
// use Check to distinguish them.
func (b *Book) Status(id uint64) Status {
	return b.status[id]
}

// Check returns nil if id names an open order.
func (b *Book) Check(id uint64) error {
	if _, ok := b.orders[id]; !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	switch b.status[id] {
	case Filled:
		return fmt.Errorf("%w: id %d", ErrAlreadyFilled, id)
	case Canceled:
		return fmt.Errorf("%w: id %d", ErrAlreadyCanceled, id)
	}
	return nil
}

// MarkFilled moves an open order to Filled.
func (b *Book) MarkFilled(id uint64) error {
	return b.transition(id, Filled)
}

// MarkCanceled moves an open order to Canceled.
func (b *Book) MarkCanceled(id uint64) error {
	return b.transition(id, Canceled)
}

func (b *Book) transition(id uint64, to Status) error {
	if err := b.Check(id); err != nil {
		return err
	}
	b.status[id] = to
	b.touched[id] = struct{}{}
	b.journal.Append(func() { delete(b.status, id) })
	return nil
}

// Touched returns records for orders created or transitioned since the last
// ClearTouched. Orders removed by a revert are skipped.
func (b *Book) Touched() []Record {
	out := make([]Record, 0, len(b.touched))
	for id := range b.touched {
		o, ok := b.orders[id]
		if !ok {
			continue
		}
		out = append(out, Record{Order: o.clone(), Status: b.status[id]})
	}
	sortRecords(out)
	return out
}

// ClearTouched forgets the touched set.
func (b *Book) ClearTouched() {
	b.touched = make(map[uint64]struct{})
}

// Records returns every order with its status, ordered by id.
func (b *Book) Records() []Record {
	out := make([]Record, 0, len(b.orders))
	for id := uint64(1); id <= b.count; id++ {
		if o, ok := b.orders[id]; ok {
			out = append(out, Record{Order: o.clone(), Status: b.status[id]})
		}
	}
	return out
}

// Load installs persisted records without journaling. count restores the id
// sequence; it is raised to the highest loaded id if smaller.
func (b *Book) Load(records []Record, count uint64) {
	for _, r := range records {
		if r.Order == nil {
			continue
		}
		b.orders[r.Order.ID] = r.Order.clone()
		if r.Status != Open {
			b.status[r.Order.ID] = r.Status
		}
		if r.Order.ID > count {
			count = r.Order.ID
		}
	}
	b.count = count
}

func sortRecords(rs []Record) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && rs[j].Order.ID < rs[j-1].Order.ID; j-- {
			rs[j], rs[j-1] = rs[j-1], rs[j]
		}
	}
}
