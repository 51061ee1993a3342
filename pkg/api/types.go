package api

// API response types for REST endpoints and WebSocket messages.
// Amounts are base-unit decimal strings; the *_fmt fields scale them by the
// asset's decimals for display.

type ExchangeInfo struct {
	Address     string `json:"address"`
	FeeAccount  string `json:"feeAccount"`
	FeePercent  uint64 `json:"feePercent"`
	OrderCount  uint64 `json:"orderCount"`
	EventCount  uint64 `json:"eventCount"`
	Height      int64  `json:"height"`
	AppHash     string `json:"appHash"`
	ChainID     int64  `json:"chainId"`
	MempoolSize int    `json:"mempoolSize"`
}

type TokenInfo struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"totalSupply"`
	Custody     string `json:"custody"`
}

type BalanceInfo struct {
	Asset      string `json:"asset"`
	Owner      string `json:"owner"`
	Balance    string `json:"balance"`
	BalanceFmt string `json:"balanceFmt"`
	Wallet     string `json:"wallet,omitempty"`
	WalletFmt  string `json:"walletFmt,omitempty"`
}

type OrderInfo struct {
	ID         uint64 `json:"id"`
	User       string `json:"user"`
	TokenBuy   string `json:"tokenBuy"`
	AmountBuy  string `json:"amountBuy"`
	TokenSell  string `json:"tokenSell"`
	AmountSell string `json:"amountSell"`
	Timestamp  int64  `json:"timestamp"`
	Status     string `json:"status"` // "open", "filled", "canceled"
}

type CustodyInfo struct {
	Asset  string `json:"asset"`
	Ledger string `json:"ledger"`
	Held   string `json:"held"`
}

type AuditResponse struct {
	OK      bool          `json:"ok"`
	Error   string        `json:"error,omitempty"`
	Custody []CustodyInfo `json:"custody"`
}

type SubmitTxResponse struct {
	Status string `json:"status"`
	TxHash string `json:"txHash"`
}

type NonceResponse struct {
	Address   string `json:"address"`
	Nonce     uint64 `json:"nonce"`
	NextNonce uint64 `json:"nextNonce"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest: {"op":"subscribe","channels":["events","trades"]}
type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

type WSMessage struct {
	Type    string `json:"type"` // "event", "block", "subscribed", "unsubscribed"
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type BlockInfo struct {
	Height    int64  `json:"height"`
	Timestamp int64  `json:"timestamp"`
	AppHash   string `json:"appHash"`
	Txs       int    `json:"txs"`
	Failed    int    `json:"failed"`
}
