package transaction

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Receipt records the outcome of one transaction in a block
type Receipt struct {
	TxHash  common.Hash    `json:"tx_hash"`
	Height  int64          `json:"height"`
	Index   int            `json:"index"`
	Action  Action         `json:"action,omitempty"`
	From    common.Address `json:"from,omitempty"`
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	OrderID uint64         `json:"order_id,omitempty"` // set by make_order, cancel_order and fill_order
	Events  []uint64       `json:"events,omitempty"`   // sequence numbers emitted by this tx
}

// Hash returns the keccak256 of the raw transaction bytes
func Hash(raw []byte) common.Hash {
	return crypto.Keccak256Hash(raw)
}
