package transaction

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexledger/pkg/crypto"
)

// Action names the exchange operation a transaction invokes
type Action string

const (
	ActionApprove       Action = "approve"        // token allowance for the exchange (host-level)
	ActionDepositEther  Action = "deposit_ether"  // native coin into custody
	ActionDepositToken  Action = "deposit_token"  // token into custody via allowance
	ActionWithdrawEther Action = "withdraw_ether" // native coin out of custody
	ActionWithdrawToken Action = "withdraw_token" // token out of custody
	ActionMakeOrder     Action = "make_order"
	ActionCancelOrder   Action = "cancel_order"
	ActionFillOrder     Action = "fill_order"
)

// SignedTransaction is the JSON envelope submitted to the node
type SignedTransaction struct {
	Call      *CallPayload `json:"call"`
	Signature string       `json:"signature"` // Hex-encoded 65-byte signature (0x...)
}

// CallPayload carries an ExchangeCall in JSON-friendly form.
// Amounts are decimal strings; addresses are 0x hex.
type CallPayload struct {
	Action     Action `json:"action"`
	Token      string `json:"token,omitempty"`
	Amount     string `json:"amount,omitempty"`
	TokenBuy   string `json:"token_buy,omitempty"`
	AmountBuy  string `json:"amount_buy,omitempty"`
	TokenSell  string `json:"token_sell,omitempty"`
	AmountSell string `json:"amount_sell,omitempty"`
	OrderID    string `json:"order_id,omitempty"`
	Spender    string `json:"spender,omitempty"`
	Nonce      string `json:"nonce"`
	From       string `json:"from"`
}

func parseAmount(name, s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return v, nil
}

func parseUint(name, s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return v, nil
}

func parseAddress(name, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", name, s)
	}
	return common.HexToAddress(s), nil
}

// ToExchangeCall converts the payload to the typed message that was signed
func (p *CallPayload) ToExchangeCall() (*crypto.ExchangeCall, error) {
	call := &crypto.ExchangeCall{Action: string(p.Action)}
	var err error

	addrs := []struct {
		name string
		src  string
		dst  *common.Address
	}{
		{"token", p.Token, &call.Token},
		{"tokenBuy", p.TokenBuy, &call.TokenBuy},
		{"tokenSell", p.TokenSell, &call.TokenSell},
		{"spender", p.Spender, &call.Spender},
		{"from", p.From, &call.From},
	}
	for _, a := range addrs {
		if *a.dst, err = parseAddress(a.name, a.src); err != nil {
			return nil, err
		}
	}

	if call.Amount, err = parseAmount("amount", p.Amount); err != nil {
		return nil, err
	}
	if call.AmountBuy, err = parseAmount("amountBuy", p.AmountBuy); err != nil {
		return nil, err
	}
	if call.AmountSell, err = parseAmount("amountSell", p.AmountSell); err != nil {
		return nil, err
	}
	if call.OrderID, err = parseUint("orderId", p.OrderID); err != nil {
		return nil, err
	}
	if call.Nonce, err = parseUint("nonce", p.Nonce); err != nil {
		return nil, err
	}
	return call, nil
}

// FromExchangeCall converts a typed call to its JSON payload
func FromExchangeCall(call *crypto.ExchangeCall) *CallPayload {
	p := &CallPayload{
		Action: Action(call.Action),
		Nonce:  strconv.FormatUint(call.Nonce, 10),
		From:   call.From.Hex(),
	}
	zero := common.Address{}
	if call.Token != zero {
		p.Token = call.Token.Hex()
	}
	if call.TokenBuy != zero {
		p.TokenBuy = call.TokenBuy.Hex()
	}
	if call.TokenSell != zero {
		p.TokenSell = call.TokenSell.Hex()
	}
	if call.Spender != zero {
		p.Spender = call.Spender.Hex()
	}
	if call.Amount != nil && !call.Amount.IsZero() {
		p.Amount = call.Amount.Dec()
	}
	if call.AmountBuy != nil && !call.AmountBuy.IsZero() {
		p.AmountBuy = call.AmountBuy.Dec()
	}
	if call.AmountSell != nil && !call.AmountSell.IsZero() {
		p.AmountSell = call.AmountSell.Dec()
	}
	if call.OrderID != 0 {
		p.OrderID = strconv.FormatUint(call.OrderID, 10)
	}
	return p
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Validate checks that the envelope carries the fields its action needs.
// It does not check amounts against balances; the exchange does that.
func (tx *SignedTransaction) Validate() error {
	if tx.Call == nil {
		return fmt.Errorf("missing call payload")
	}
	if tx.Signature == "" {
		return fmt.Errorf("missing signature")
	}
	c := tx.Call
	if c.From == "" {
		return fmt.Errorf("missing from address")
	}
	if c.Nonce == "" {
		return fmt.Errorf("missing nonce")
	}

	switch c.Action {
	case ActionApprove:
		if c.Token == "" || c.Spender == "" {
			return fmt.Errorf("approve requires token and spender")
		}
	case ActionDepositEther, ActionWithdrawEther:
		if c.Amount == "" {
			return fmt.Errorf("%s requires amount", c.Action)
		}
	case ActionDepositToken, ActionWithdrawToken:
		if c.Token == "" || c.Amount == "" {
			return fmt.Errorf("%s requires token and amount", c.Action)
		}
	case ActionMakeOrder:
		if c.AmountBuy == "" || c.AmountSell == "" {
			return fmt.Errorf("make_order requires amount_buy and amount_sell")
		}
	case ActionCancelOrder, ActionFillOrder:
		if c.OrderID == "" {
			return fmt.Errorf("%s requires order_id", c.Action)
		}
	case "":
		return fmt.Errorf("missing action")
	default:
		return fmt.Errorf("unknown action: %s", c.Action)
	}
	return nil
}

// ParseTransaction decodes and structurally validates a raw transaction
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return &tx, nil
}

// Example:
//   {
//     "call": {
//       "action": "make_order",
//       "token_buy": "0x5FbDB2315678afecb367f032d93F642f64180aa3",
//       "amount_buy": "1000000000000000000",
//       "amount_sell": "1000000000000000000",
//       "nonce": "3",
//       "from": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
//     },
//     "signature": "0x1234567890abcdef..."
//   }
