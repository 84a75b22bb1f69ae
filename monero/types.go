package monero

// Destination is a single transfer output, the wire shape monero-wallet-rpc
// expects in a "transfer" call's destinations array.
type Destination struct {
	Amount  uint64 `json:"amount"`
	Address string `json:"address"`
}

// GetAccountsResponse is the result of the "get_accounts" RPC.
type GetAccountsResponse struct {
	SubaddressAccounts []struct {
		AccountIndex   uint   `json:"account_index"`
		BaseAddress    string `json:"base_address"`
		Balance        uint64 `json:"balance"`
		UnlockedBalance uint64 `json:"unlocked_balance"`
	} `json:"subaddress_accounts"`
}

// GetAddressResponse is the result of the "get_address" RPC.
type GetAddressResponse struct {
	Address string `json:"address"`
}

// GetBalanceResponse is the result of the "get_balance" RPC.
type GetBalanceResponse struct {
	Balance         uint64 `json:"balance"`
	UnlockedBalance uint64 `json:"unlocked_balance"`
}

// TransferResponse is the result of the "transfer" RPC.
type TransferResponse struct {
	TxHash string `json:"tx_hash"`
	TxKey  string `json:"tx_key"`
	Amount uint64 `json:"amount"`
	Fee    uint64 `json:"fee"`
}

// SweepAllResponse is the result of the "sweep_all" RPC.
type SweepAllResponse struct {
	TxHashList []string `json:"tx_hash_list"`
	TxKeyList  []string `json:"tx_key_list"`
	AmountList []uint64 `json:"amount_list"`
	FeeList    []uint64 `json:"fee_list"`
}

// checkTxKeyResponse is the result of the "check_tx_key" RPC, used by
// WatchTransfer to confirm a transfer without needing the spend key.
type checkTxKeyResponse struct {
	Confirmations uint64 `json:"confirmations"`
	Received      uint64 `json:"received"`
	InPool        bool   `json:"in_pool"`
}

// getHeightResponse is the result of the "get_height" RPC.
type getHeightResponse struct {
	Height uint `json:"height"`
}
