package exchange

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/dexledger/pkg/app/core/events"
	"github.com/uhyunpark/dexledger/pkg/app/core/ledger"
	"github.com/uhyunpark/dexledger/pkg/app/core/orderbook"
	"github.com/uhyunpark/dexledger/pkg/app/core/settlement"
	"github.com/uhyunpark/dexledger/pkg/app/core/state"
	"github.com/uhyunpark/dexledger/pkg/asset"
)

// Clock supplies order, trade and cancel timestamps.
type Clock interface {
	Now() time.Time
}

// Config wires an Exchange to its host environment.
type Config struct {
	Address    common.Address // custody address in the bank and token balances
	FeeAccount common.Address
	FeePercent uint64

	// Journal must be the journal the bank and tokens record into, so that a
	// failed operation also undoes asset moves it triggered.
	Journal *state.Journal
	Bank    *asset.NativeBank
	Tokens  *asset.Registry
	Clock   Clock
	Logger  *zap.SugaredLogger
}

// Exchange is the custodial ledger and order lifecycle engine.
//
// It is not safe for concurrent use. A single goroutine drives it; asset
// callbacks that re-enter it run as nested frames of the outer operation and
// are rolled back with it.
type Exchange struct {
	address common.Address
	journal *state.Journal
	ledger  *ledger.Ledger
	book    *orderbook.Book
	log     *events.Log
	settle  *settlement.Engine
	bank    *asset.NativeBank
	tokens  *asset.Registry
	clock   Clock
	logger  *zap.SugaredLogger

	depth           int
	acceptingNative bool
	subscribers     []func(events.Envelope)
}

// New creates an exchange and registers its payable hook with the bank.
func New(cfg Config) (*Exchange, error) {
	settle, err := settlement.New(cfg.FeeAccount, cfg.FeePercent)
	if err != nil {
		return nil, err
	}
	if cfg.Bank == nil || cfg.Tokens == nil {
		return nil, fmt.Errorf("exchange requires a native bank and a token registry")
	}
	j := cfg.Journal
	if j == nil {
		j = state.NewJournal()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	x := &Exchange{
		address: cfg.Address,
		journal: j,
		ledger:  ledger.New(j),
		book:    orderbook.NewBook(j),
		log:     events.NewLog(j),
		settle:  settle,
		bank:    cfg.Bank,
		tokens:  cfg.Tokens,
		clock:   clock,
		logger:  logger,
	}
	x.bank.SetPayableHook(x.address, x.receiveNative)
	return x, nil
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// receiveNative rejects native coin that does not arrive through DepositEther.
func (x *Exchange) receiveNative(from common.Address, amount *uint256.Int) error {
	if !x.acceptingNative {
		return ErrDirectTransfer
	}
	return nil
}

// Subscribe registers fn to receive every event after its operation commits.
func (x *Exchange) Subscribe(fn func(events.Envelope)) {
	x.subscribers = append(x.subscribers, fn)
}

// exec runs fn as one frame. A failing frame is rolled back to where it
// started; the outermost frame commits, publishing events and dropping the
// journal.
func (x *Exchange) exec(op string, fn func() error) (err error) {
	snap := x.journal.Snapshot()
	x.depth++
	defer func() {
		x.depth--
		if err != nil {
			x.journal.RevertToSnapshot(snap)
			x.logger.Debugw("op_reverted", "op", op, "depth", x.depth, "err", err)
		}
		if x.depth == 0 {
			x.commit()
		}
	}()
	return fn()
}

func (x *Exchange) commit() {
	x.journal.Reset()
	for _, env := range x.log.TakePending() {
		for _, fn := range x.subscribers {
			fn(env)
		}
	}
}

func (x *Exchange) now() int64 {
	return x.clock.Now().Unix()
}

func (x *Exchange) Address() common.Address    { return x.address }
func (x *Exchange) FeeAccount() common.Address { return x.settle.FeeAccount() }
func (x *Exchange) FeePercent() uint64         { return x.settle.FeePercent() }
func (x *Exchange) OrderCount() uint64         { return x.book.Count() }

// BalanceOf returns the ledger entry for (asset, owner), zero if absent.
func (x *Exchange) BalanceOf(assetID, owner common.Address) *uint256.Int {
	return x.ledger.BalanceOf(assetID, owner)
}

// Order returns a copy of an order by id.
func (x *Exchange) Order(id uint64) (*orderbook.Order, bool) {
	return x.book.Get(id)
}

func (x *Exchange) FilledOrders(id uint64) bool {
	return x.book.Status(id) == orderbook.Filled
}

func (x *Exchange) CanceledOrders(id uint64) bool {
	return x.book.Status(id) == orderbook.Canceled
}

// Events returns logged events with sequence numbers above since.
func (x *Exchange) Events(since uint64) []events.Envelope {
	return x.log.Since(since)
}

// EventCount returns the sequence number of the last logged event.
func (x *Exchange) EventCount() uint64 {
	return uint64(x.log.Len())
}

// Changes is the set of records mutated since the last ClearChanges.
type Changes struct {
	Balances []ledger.Entry
	Orders   []orderbook.Record
}

func (x *Exchange) Changes() Changes {
	return Changes{Balances: x.ledger.Touched(), Orders: x.book.Touched()}
}

func (x *Exchange) ClearChanges() {
	x.ledger.ClearTouched()
	x.book.ClearTouched()
}

// Balances returns every non-zero ledger entry.
func (x *Exchange) Balances() []ledger.Entry {
	return x.ledger.Entries()
}

// Orders returns every order with its status.
func (x *Exchange) Orders() []orderbook.Record {
	return x.book.Records()
}

// Restore loads persisted state into a freshly constructed exchange.
func (x *Exchange) Restore(balances []ledger.Entry, orders []orderbook.Record, orderCount uint64, evts []events.Envelope) error {
	if x.book.Count() != 0 || x.log.Len() != 0 || len(x.ledger.Entries()) != 0 {
		return fmt.Errorf("restore into a non-empty exchange")
	}
	x.ledger.Load(balances)
	x.book.Load(orders, orderCount)
	if err := x.log.Load(evts); err != nil {
		return fmt.Errorf("failed to restore events: %w", err)
	}
	return nil
}
