package exchange

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexledger/pkg/asset"
)

// Custody compares what the ledger owes for one asset with what the exchange
// actually holds of it.
type Custody struct {
	Asset  common.Address `json:"asset"`
	Ledger *uint256.Int   `json:"ledger"`
	Held   *uint256.Int   `json:"held"`
}

// Audit checks that, for every asset, the sum of ledger entries does not
// exceed the custodied balance. Fee rounding never creates value, so any
// shortfall is a bug or an asset misbehaving.
func (x *Exchange) Audit() ([]Custody, error) {
	seen := map[common.Address]struct{}{asset.NativeID: {}}
	for _, a := range x.ledger.Assets() {
		seen[a] = struct{}{}
	}
	for _, a := range x.tokens.Addresses() {
		seen[a] = struct{}{}
	}
	assets := make([]common.Address, 0, len(seen))
	for a := range seen {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return bytes.Compare(assets[i][:], assets[j][:]) < 0 })

	report := make([]Custody, 0, len(assets))
	var violations []string
	for _, a := range assets {
		total, err := x.ledger.Total(a)
		if err != nil {
			return nil, err
		}
		held := new(uint256.Int)
		if a == asset.NativeID {
			held = x.bank.BalanceOf(x.address)
		} else if tok, err := x.tokens.Get(a); err == nil {
			held = tok.BalanceOf(x.address)
		}
		report = append(report, Custody{Asset: a, Ledger: total, Held: held})
		if total.Gt(held) {
			violations = append(violations, fmt.Sprintf("%s owes %s holds %s", a.Hex(), total.Dec(), held.Dec()))
		}
	}
	if len(violations) > 0 {
		return report, fmt.Errorf("%w: %s", ErrCustodyViolation, strings.Join(violations, "; "))
	}
	return report, nil
}
