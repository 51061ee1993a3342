package mempool

import (
	"container/heap"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Bucket classifies transactions for proposal ordering.
type Bucket int

const (
	BucketFunds  Bucket = iota // approve, deposits, withdrawals
	BucketCancel               // cancel_order
	BucketOrders               // make_order, fill_order
)

type envelope struct {
	Call struct {
		Action string `json:"action"`
		Nonce  string `json:"nonce"`
		From   string `json:"from"`
	} `json:"call"`
}

// Classify reads the action from a raw signed transaction.
//
//	{"call":{"action":"deposit_token",...}} -> BucketFunds
//	{"call":{"action":"cancel_order",...}}  -> BucketCancel
//
// Anything unparseable lands in BucketOrders; it will be rejected at
// execution and gets no priority.
func Classify(b []byte) Bucket {
	bucket, _, _ := peek(b)
	return bucket
}

// peek returns the bucket, the lowercased sender and the nonce. Sender is
// empty when the tx cannot be parsed.
func peek(b []byte) (Bucket, string, uint64) {
	if len(b) == 0 || b[0] != '{' {
		return BucketOrders, "", 0
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return BucketOrders, "", 0
	}
	nonce, _ := strconv.ParseUint(env.Call.Nonce, 10, 64)
	sender := strings.ToLower(env.Call.From)

	switch env.Call.Action {
	case "approve", "deposit_ether", "deposit_token", "withdraw_ether", "withdraw_token":
		return BucketFunds, sender, nonce
	case "cancel_order":
		return BucketCancel, sender, nonce
	default:
		return BucketOrders, sender, nonce
	}
}

type entry struct {
	raw    []byte
	bucket Bucket
	sender string
	nonce  uint64
	seq    uint64 // arrival order
}

// readyQueue is a min-heap of entries by arrival order.
type readyQueue []*entry

func (q readyQueue) Len() int           { return len(q) }
func (q readyQueue) Less(i, j int) bool { return q[i].seq < q[j].seq }
func (q readyQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *readyQueue) Push(x interface{}) { *q = append(*q, x.(*entry)) }

func (q *readyQueue) Pop() interface{} {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

// Mempool orders proposals by bucket: funds first so deposits land before
// the fills that need them, then cancels so a maker's cancel wins over a fill
// submitted in the same block, then orders. Buckets only reorder across
// senders. One sender's txs always leave in nonce order, since execution
// rejects a nonce at or below the last accepted one.
type Mempool struct {
	mu      sync.Mutex
	pending []*entry
	seq     uint64
}

func NewMempool() *Mempool {
	return &Mempool{}
}

// PushRaw classifies and enqueues a tx.
func (m *Mempool) PushRaw(b []byte) {
	bucket, sender, nonce := peek(b)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.pending = append(m.pending, &entry{
		raw:    append([]byte(nil), b...),
		bucket: bucket,
		sender: sender,
		nonce:  nonce,
		seq:    m.seq,
	})
}

// SelectForProposal returns up to maxBytes worth of txs, removing them from
// the mempool. maxBytes <= 0 means no limit. Only the lowest-nonce pending tx
// of each sender is eligible; among eligible txs the highest bucket goes
// first, oldest first within a bucket. Selection stops at the first tx that
// does not fit.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Per-sender queues in nonce order. Unparseable txs each get their own.
	bySender := make(map[string][]*entry)
	var ready [BucketOrders + 1]readyQueue
	for _, e := range m.pending {
		if e.sender == "" {
			heap.Push(&ready[e.bucket], e)
			continue
		}
		bySender[e.sender] = append(bySender[e.sender], e)
	}
	for sender, q := range bySender {
		sort.SliceStable(q, func(i, j int) bool { return q[i].nonce < q[j].nonce })
		bySender[sender] = q
		heap.Push(&ready[q[0].bucket], q[0])
	}

	var out [][]byte
	var used int64
	taken := make(map[*entry]bool)

	for {
		var next *entry
		for b := range ready {
			if ready[b].Len() > 0 {
				next = ready[b][0]
				break
			}
		}
		if next == nil {
			break
		}
		n := int64(len(next.raw))
		if maxBytes > 0 && used+n > maxBytes {
			break
		}
		heap.Pop(&ready[next.bucket])
		out = append(out, next.raw)
		used += n
		taken[next] = true

		if next.sender != "" {
			q := bySender[next.sender][1:]
			bySender[next.sender] = q
			if len(q) > 0 {
				heap.Push(&ready[q[0].bucket], q[0])
			}
		}
	}

	if len(taken) > 0 {
		rest := m.pending[:0]
		for _, e := range m.pending {
			if !taken[e] {
				rest = append(rest, e)
			}
		}
		for i := len(rest); i < len(m.pending); i++ {
			m.pending[i] = nil
		}
		m.pending = rest
	}
	return out
}

// Len returns total pending txs.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
