package abci

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }
type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }
type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // Unix timestamp in seconds
	Txs       [][]byte
}

// TxResult is the per-transaction outcome of FinalizeBlock, in block order.
type TxResult struct {
	Hash    common.Hash
	Success bool
	Error   string
}

type ResponseFinalizeBlock struct {
	Results []TxResult
	AppHash common.Hash // Hash of application state after execution
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) ResponseFinalizeBlock
}

var ErrMalformedPayload = errors.New("malformed block payload")

// EncodePayload frames txs as a sequence of uvarint(len) || tx records.
func EncodePayload(txs [][]byte) []byte {
	n := 0
	for _, tx := range txs {
		n += binary.MaxVarintLen64 + len(tx)
	}
	payload := make([]byte, 0, n)
	for _, tx := range txs {
		payload = binary.AppendUvarint(payload, uint64(len(tx)))
		payload = append(payload, tx...)
	}
	return payload
}

// DecodePayload reverses EncodePayload. Returned slices are copies.
func DecodePayload(p []byte) ([][]byte, error) {
	var out [][]byte
	for len(p) > 0 {
		size, n := binary.Uvarint(p)
		if n <= 0 {
			return nil, fmt.Errorf("%w: bad length prefix", ErrMalformedPayload)
		}
		p = p[n:]
		if size > uint64(len(p)) {
			return nil, fmt.Errorf("%w: record of %d bytes, %d left", ErrMalformedPayload, size, len(p))
		}
		out = append(out, append([]byte(nil), p[:size]...))
		p = p[size:]
	}
	return out, nil
}
