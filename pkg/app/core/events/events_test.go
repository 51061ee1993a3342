package events

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexledger/pkg/app/core/state"
)

var (
	token = common.HexToAddress("0x7000000000000000000000000000000000000001")
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

func TestAppendAndRevert(t *testing.T) {
	j := state.NewJournal()
	l := NewLog(j)

	l.Append(Deposit{Token: token, User: alice, Amount: uint256.NewInt(1), Balance: uint256.NewInt(1)})
	snap := j.Snapshot()
	l.Append(Withdraw{Token: token, User: alice, Amount: uint256.NewInt(1), Balance: uint256.NewInt(0)})
	j.RevertToSnapshot(snap)

	if l.Len() != 1 {
		t.Fatalf("len = %d, want 1", l.Len())
	}
	seq := l.Append(Order{ID: 1, User: alice})
	if seq != 2 {
		t.Errorf("seq = %d, want 2 (reverted seq reused)", seq)
	}
}

func TestTakePendingAndSince(t *testing.T) {
	l := NewLog(state.NewJournal())
	l.Append(Order{ID: 1, User: alice})
	l.Append(CancelOrder{ID: 1, User: alice})

	if got := l.TakePending(); len(got) != 2 {
		t.Fatalf("pending = %d, want 2", len(got))
	}
	if got := l.TakePending(); len(got) != 0 {
		t.Errorf("second take = %d, want 0", len(got))
	}

	since := l.Since(1)
	if len(since) != 1 || since[0].Event.Kind() != KindCancelOrder {
		t.Errorf("since(1) = %+v", since)
	}
	if l.Since(5) != nil {
		t.Error("since past end should be nil")
	}
}

func TestEnvelopeJSONKeepsKind(t *testing.T) {
	in := Envelope{Seq: 7, Event: Trade{
		ID:         3,
		User:       alice,
		TokenBuy:   token,
		AmountBuy:  uint256.NewInt(10),
		AmountSell: uint256.NewInt(20),
		UserFill:   bob,
		Timestamp:  1700000000,
	}}

	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var out Envelope
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	tr, ok := out.Event.(Trade)
	if !ok {
		t.Fatalf("decoded %T, want Trade", out.Event)
	}
	if out.Seq != 7 || tr.UserFill != bob || tr.AmountSell.Uint64() != 20 {
		t.Errorf("decoded = %+v", tr)
	}

	if err := json.Unmarshal([]byte(`{"seq":1,"kind":"Bogus","data":{}}`), &out); err == nil {
		t.Error("expected error for unknown kind")
	}
}
