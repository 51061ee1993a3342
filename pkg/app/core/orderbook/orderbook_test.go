package orderbook

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexledger/pkg/app/core/state"
)

var (
	native = common.Address{}
	token  = common.HexToAddress("0x7000000000000000000000000000000000000001")
	alice  = common.HexToAddress("0xAA00000000000000000000000000000000000000")
)

func newTestBook() (*Book, *state.Journal) {
	j := state.NewJournal()
	return NewBook(j), j
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	b, _ := newTestBook()
	for want := uint64(1); want <= 3; want++ {
		o := b.Create(alice, token, uint256.NewInt(1), native, uint256.NewInt(2), 1700000000)
		if o.ID != want {
			t.Errorf("id = %d, want %d", o.ID, want)
		}
	}
	if b.Count() != 3 {
		t.Errorf("count = %d, want 3", b.Count())
	}

	o, ok := b.Get(2)
	if !ok {
		t.Fatal("order 2 missing")
	}
	if o.User != alice || o.TokenBuy != token || o.AmountSell.Uint64() != 2 {
		t.Errorf("unexpected order: %+v", o)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	b, _ := newTestBook()
	b.Create(alice, token, uint256.NewInt(5), native, uint256.NewInt(5), 1)

	o, _ := b.Get(1)
	o.AmountBuy.SetUint64(999)

	again, _ := b.Get(1)
	if again.AmountBuy.Uint64() != 5 {
		t.Error("stored order was mutated through a returned copy")
	}
}

func TestTerminalStates(t *testing.T) {
	tests := []struct {
		name    string
		first   func(*Book) error
		then    func(*Book) error
		wantErr error
	}{
		{"fill then fill", (*Book).fillOne, (*Book).fillOne, ErrAlreadyFilled},
		{"fill then cancel", (*Book).fillOne, (*Book).cancelOne, ErrAlreadyFilled},
		{"cancel then fill", (*Book).cancelOne, (*Book).fillOne, ErrAlreadyCanceled},
		{"cancel then cancel", (*Book).cancelOne, (*Book).cancelOne, ErrAlreadyCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBook()
			b.Create(alice, token, uint256.NewInt(1), native, uint256.NewInt(1), 1)
			if err := tt.first(b); err != nil {
				t.Fatalf("first transition failed: %v", err)
			}
			if err := tt.then(b); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func (b *Book) fillOne() error   { return b.MarkFilled(1) }
func (b *Book) cancelOne() error { return b.MarkCanceled(1) }

func TestCheckUnknownID(t *testing.T) {
	b, _ := newTestBook()
	b.Create(alice, token, uint256.NewInt(1), native, uint256.NewInt(1), 1)

	for _, id := range []uint64{0, 2, 666} {
		if err := b.Check(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Check(%d) = %v, want ErrNotFound", id, err)
		}
	}
}

func TestRevertUndoesCreateAndStatus(t *testing.T) {
	b, j := newTestBook()
	b.Create(alice, token, uint256.NewInt(1), native, uint256.NewInt(1), 1)
	snap := j.Snapshot()

	b.Create(alice, token, uint256.NewInt(1), native, uint256.NewInt(1), 2)
	b.MarkFilled(1)
	j.RevertToSnapshot(snap)

	if b.Count() != 1 {
		t.Errorf("count = %d, want 1", b.Count())
	}
	if _, ok := b.Get(2); ok {
		t.Error("reverted order still present")
	}
	if b.Status(1) != Open {
		t.Errorf("status = %s, want open", b.Status(1))
	}
}

func TestLoadRestoresSequence(t *testing.T) {
	src, _ := newTestBook()
	src.Create(alice, token, uint256.NewInt(1), native, uint256.NewInt(1), 1)
	src.Create(alice, token, uint256.NewInt(1), native, uint256.NewInt(1), 1)
	src.MarkCanceled(2)

	dst, _ := newTestBook()
	dst.Load(src.Records(), src.Count())

	if dst.Count() != 2 || dst.Status(2) != Canceled {
		t.Fatalf("count=%d status=%s", dst.Count(), dst.Status(2))
	}
	o := dst.Create(alice, token, uint256.NewInt(1), native, uint256.NewInt(1), 1)
	if o.ID != 3 {
		t.Errorf("next id = %d, want 3", o.ID)
	}
}
