package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/dexledger/params"
	"github.com/uhyunpark/dexledger/pkg/app/core/transaction"
	"github.com/uhyunpark/dexledger/pkg/crypto"
	"github.com/uhyunpark/dexledger/pkg/units"
)

// sign-tx builds and signs one exchange call and prints the JSON body for
// POST /api/v1/tx. The key comes from PRIVATE_KEY or is freshly generated.
//
//	PRIVATE_KEY=0x... sign-tx -action deposit_ether -amount 1.5 -nonce 1
//	sign-tx -action make_order -token-buy 0x... -amount-buy 1 -amount-sell 2 -nonce 2
func main() {
	var (
		action     = flag.String("action", "", "approve|deposit_ether|deposit_token|withdraw_ether|withdraw_token|make_order|cancel_order|fill_order")
		token      = flag.String("token", "", "token address")
		amount     = flag.String("amount", "", "amount in whole units (scaled by -decimals)")
		tokenBuy   = flag.String("token-buy", "", "asset the maker receives (empty = native)")
		amountBuy  = flag.String("amount-buy", "", "amount of token-buy")
		tokenSell  = flag.String("token-sell", "", "asset the maker gives (empty = native)")
		amountSell = flag.String("amount-sell", "", "amount of token-sell")
		orderID    = flag.Uint64("order", 0, "order id for cancel/fill")
		spender    = flag.String("spender", "", "spender for approve (default: exchange address)")
		nonce      = flag.Uint64("nonce", 1, "must exceed the last accepted nonce")
		decimals   = flag.Uint("decimals", 18, "decimals used to scale amounts")
		raw        = flag.Bool("raw", false, "amounts are base units, not whole units")
		envFile    = flag.String("env", "", ".env file with CHAIN_ID / EXCHANGE_ADDRESS")
	)
	flag.Parse()

	cfg, err := params.LoadFromEnv(*envFile)
	if err != nil {
		fail("config: %v", err)
	}

	signer, generated, err := loadSigner()
	if err != nil {
		fail("key: %v", err)
	}
	if generated {
		fmt.Fprintf(os.Stderr, "Generated key %s (private key %s, KEEP SECRET)\n", signer.Address().Hex(), signer.PrivateKeyHex())
	}

	parse := func(name, s string) *uint256.Int {
		if s == "" {
			return nil
		}
		var v *uint256.Int
		var err error
		if *raw {
			v, err = uint256.FromDecimal(s)
		} else {
			v, err = units.Parse(s, uint8(*decimals))
		}
		if err != nil {
			fail("%s: %v", name, err)
		}
		return v
	}
	addr := func(name, s string) common.Address {
		if s == "" {
			return common.Address{}
		}
		if !common.IsHexAddress(s) {
			fail("%s: not a hex address: %q", name, s)
		}
		return common.HexToAddress(s)
	}

	call := &crypto.ExchangeCall{
		Action:     *action,
		Token:      addr("token", *token),
		Amount:     parse("amount", *amount),
		TokenBuy:   addr("token-buy", *tokenBuy),
		AmountBuy:  parse("amount-buy", *amountBuy),
		TokenSell:  addr("token-sell", *tokenSell),
		AmountSell: parse("amount-sell", *amountSell),
		OrderID:    *orderID,
		Spender:    addr("spender", *spender),
		Nonce:      *nonce,
		From:       signer.Address(),
	}
	if call.Action == string(transaction.ActionApprove) && *spender == "" {
		call.Spender = cfg.Exchange.Address
	}

	domain := crypto.DefaultDomain()
	domain.ChainID.SetInt64(cfg.Node.ChainID)
	domain.VerifyingContract = cfg.Exchange.Address

	verifier := transaction.NewVerifier(domain)
	tx, err := verifier.Sign(signer, call)
	if err != nil {
		fail("sign: %v", err)
	}
	if err := tx.Validate(); err != nil {
		fail("invalid transaction: %v", err)
	}
	if _, recovered, err := verifier.Verify(tx); err != nil || recovered != signer.Address() {
		fail("self-check failed: %v", err)
	}

	out, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		fail("marshal: %v", err)
	}
	fmt.Println(string(out))
}

func loadSigner() (*crypto.Signer, bool, error) {
	if key := os.Getenv("PRIVATE_KEY"); key != "" {
		s, err := crypto.FromPrivateKeyHex(key)
		return s, false, err
	}
	s, err := crypto.GenerateKey()
	return s, true, err
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
