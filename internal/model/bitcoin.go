package model

// Esplora block explorer transaction (blockstream.info / mempool.space).
type ExplorerTx struct {
	TxID   string           `json:"txid"`
	Status ExplorerTxStatus `json:"status"`
	Vout   []ExplorerVout   `json:"vout"`
}

type ExplorerTxStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int64 `json:"block_height"`
	BlockTime   int64 `json:"block_time"`
}

type ExplorerVout struct {
	ScriptPubKeyAddress string `json:"scriptpubkey_address"`
	Value               int64  `json:"value"` // sats
}

// LNbits invoice API.
type LightningInvoiceRequest struct {
	Out    bool   `json:"out"`
	Amount int64  `json:"amount"` // sats
	Memo   string `json:"memo"`
	Expiry int64  `json:"expiry"` // seconds
}

type LightningInvoiceResponse struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
}

type LightningPaymentStatus struct {
	Paid bool `json:"paid"`
}
