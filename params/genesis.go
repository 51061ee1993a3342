package params

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"github.com/uhyunpark/dexledger/pkg/units"
)

// DefaultDeployer owns the default genesis token supply.
var DefaultDeployer = common.HexToAddress("0x00000000000000000000000000000000000DE901")

// Genesis is the YAML document describing initial asset state. Amounts are
// human decimal strings scaled by the asset's decimals.
type Genesis struct {
	Tokens []GenesisToken  `yaml:"tokens"`
	Native []GenesisNative `yaml:"native"`
}

type GenesisToken struct {
	Name     string `yaml:"name"`
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
	Supply   string `yaml:"supply"`
	Owner    string `yaml:"owner"`
	// Address is optional; when empty it is derived from the owner and the
	// token's index, the way a contract deployment address is.
	Address string `yaml:"address,omitempty"`
}

type GenesisNative struct {
	Address string `yaml:"address"`
	Amount  string `yaml:"amount"`
}

// TokenAlloc is a validated genesis token.
type TokenAlloc struct {
	Address  common.Address
	Name     string
	Symbol   string
	Decimals uint8
	Supply   *uint256.Int
	Owner    common.Address
}

// NativeAlloc is a validated native coin allocation.
type NativeAlloc struct {
	Address common.Address
	Amount  *uint256.Int
}

func DefaultGenesis() Genesis {
	return Genesis{
		Tokens: []GenesisToken{{
			Name:     "Emerald",
			Symbol:   "EMG",
			Decimals: 18,
			Supply:   "100",
			Owner:    DefaultDeployer.Hex(),
		}},
		Native: []GenesisNative{{
			Address: DefaultDeployer.Hex(),
			Amount:  "100",
		}},
	}
}

// LoadGenesis reads a YAML genesis file. An empty path yields DefaultGenesis.
func LoadGenesis(path string) (Genesis, error) {
	if path == "" {
		return DefaultGenesis(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, fmt.Errorf("failed to read genesis %s: %w", path, err)
	}
	return ParseGenesis(data)
}

func ParseGenesis(data []byte) (Genesis, error) {
	var g Genesis
	if err := yaml.Unmarshal(data, &g); err != nil {
		return Genesis{}, fmt.Errorf("failed to parse genesis: %w", err)
	}
	return g, nil
}

// TokenAllocs validates the token section and resolves addresses.
func (g Genesis) TokenAllocs() ([]TokenAlloc, error) {
	out := make([]TokenAlloc, 0, len(g.Tokens))
	seen := make(map[common.Address]bool)
	for i, t := range g.Tokens {
		if t.Symbol == "" {
			return nil, fmt.Errorf("token %d: symbol required", i)
		}
		owner, err := parseAddress(fmt.Sprintf("token %s owner", t.Symbol), t.Owner)
		if err != nil {
			return nil, err
		}
		supply, err := units.Parse(t.Supply, t.Decimals)
		if err != nil {
			return nil, fmt.Errorf("token %s supply: %w", t.Symbol, err)
		}
		addr := crypto.CreateAddress(owner, uint64(i))
		if t.Address != "" {
			if addr, err = parseAddress(fmt.Sprintf("token %s address", t.Symbol), t.Address); err != nil {
				return nil, err
			}
		}
		if addr == (common.Address{}) {
			return nil, fmt.Errorf("token %s: zero address is reserved for the native coin", t.Symbol)
		}
		if seen[addr] {
			return nil, fmt.Errorf("token %s: duplicate address %s", t.Symbol, addr.Hex())
		}
		seen[addr] = true
		out = append(out, TokenAlloc{
			Address:  addr,
			Name:     t.Name,
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
			Supply:   supply,
			Owner:    owner,
		})
	}
	return out, nil
}

// NativeAllocs validates the native section. Amounts use 18 decimals.
func (g Genesis) NativeAllocs() ([]NativeAlloc, error) {
	out := make([]NativeAlloc, 0, len(g.Native))
	for i, n := range g.Native {
		addr, err := parseAddress(fmt.Sprintf("native %d address", i), n.Address)
		if err != nil {
			return nil, err
		}
		amt, err := units.Parse(n.Amount, 18)
		if err != nil {
			return nil, fmt.Errorf("native %s: %w", addr.Hex(), err)
		}
		out = append(out, NativeAlloc{Address: addr, Amount: amt})
	}
	return out, nil
}
