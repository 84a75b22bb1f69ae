// Package monero is the Monero transaction interface (C3, spec §4.3): a
// monero-wallet-rpc client plus the transfer-proof/watch-transfer
// operations the setup ceremony and both state machines depend on.
// Grounded on the teacher's monero/client.go Client shape, generalized to
// take a context.Context on every blocking call (matching this expansion's
// ambient concurrency model, spec §5) and extended with TransferProof and
// WatchTransfer (spec §4.3, absent from the teacher's EVM-oriented design).
package monero

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/athanorlabs/xmr-btc-swap/common"
	mcrypto "github.com/athanorlabs/xmr-btc-swap/crypto/monero"
)

// Client is a monero-wallet-rpc client (spec §4.3, teacher's monero.Client
// shape).
type Client interface {
	LockClient() // can't use Lock/Unlock directly, it'd shadow sync.Mutex
	UnlockClient()

	GetAccounts(ctx context.Context) (*GetAccountsResponse, error)
	GetAddress(ctx context.Context, idx uint) (*GetAddressResponse, error)
	GetBalance(ctx context.Context, idx uint) (*GetBalanceResponse, error)
	Transfer(ctx context.Context, to mcrypto.Address, accountIdx uint, amount uint64) (*TransferResponse, error)
	SweepAll(ctx context.Context, to mcrypto.Address, accountIdx uint) (*SweepAllResponse, error)
	GenerateFromKeys(ctx context.Context, kp *mcrypto.PrivateKeyPair, filename, password string, env common.Environment) error
	GenerateViewOnlyWalletFromKeys(ctx context.Context, vk *mcrypto.PrivateViewKey, address mcrypto.Address, filename, password string) error
	GetHeight(ctx context.Context) (uint, error)
	Refresh(ctx context.Context) error
	CreateWallet(ctx context.Context, filename, password string) error
	OpenWallet(ctx context.Context, filename, password string) error
	CloseWallet(ctx context.Context) error

	// CheckTxKey confirms a transfer by tx hash and private key, without
	// needing the spend key (spec §4.3's watch-operation primitive).
	CheckTxKey(ctx context.Context, txHash, txKey string, address mcrypto.Address) (confirmations, received uint64, inPool bool, err error)
}

type client struct {
	sync.Mutex
	endpoint string
}

var _ Client = (*client)(nil)

// NewClient returns a new monero-wallet-rpc client for endpoint (e.g.
// "http://127.0.0.1:18084/json_rpc").
func NewClient(endpoint string) Client {
	return &client{endpoint: endpoint}
}

func (c *client) LockClient()   { c.Lock() }
func (c *client) UnlockClient() { c.Unlock() }

func (c *client) GetAccounts(ctx context.Context) (*GetAccountsResponse, error) {
	var out GetAccountsResponse
	if err := postRPC(ctx, c.endpoint, "get_accounts", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) GetAddress(ctx context.Context, idx uint) (*GetAddressResponse, error) {
	var out GetAddressResponse
	params := struct {
		AccountIndex uint `json:"account_index"`
	}{idx}
	if err := postRPC(ctx, c.endpoint, "get_address", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) GetBalance(ctx context.Context, idx uint) (*GetBalanceResponse, error) {
	var out GetBalanceResponse
	params := struct {
		AccountIndex uint `json:"account_index"`
	}{idx}
	if err := postRPC(ctx, c.endpoint, "get_balance", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) Transfer(ctx context.Context, to mcrypto.Address, accountIdx uint, amount uint64) (*TransferResponse, error) {
	params := struct {
		Destinations []Destination `json:"destinations"`
		AccountIndex uint          `json:"account_index"`
	}{
		Destinations: []Destination{{Amount: amount, Address: string(to)}},
		AccountIndex: accountIdx,
	}

	var out TransferResponse
	if err := postRPC(ctx, c.endpoint, "transfer", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) SweepAll(ctx context.Context, to mcrypto.Address, accountIdx uint) (*SweepAllResponse, error) {
	params := struct {
		Address      string `json:"address"`
		AccountIndex uint   `json:"account_index"`
	}{string(to), accountIdx}

	var out SweepAllResponse
	if err := postRPC(ctx, c.endpoint, "sweep_all", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) GenerateFromKeys(ctx context.Context, kp *mcrypto.PrivateKeyPair, filename, password string,
	env common.Environment) error {
	return c.generateFromKeys(ctx, kp.SpendKey(), kp.ViewKey(), kp.Address(env), filename, password)
}

func (c *client) GenerateViewOnlyWalletFromKeys(ctx context.Context, vk *mcrypto.PrivateViewKey,
	address mcrypto.Address, filename, password string) error {
	return c.generateFromKeys(ctx, nil, vk, address, filename, password)
}

func (c *client) generateFromKeys(ctx context.Context, sk *mcrypto.PrivateSpendKey, vk *mcrypto.PrivateViewKey,
	address mcrypto.Address, filename, password string) error {
	spendKeyHex := ""
	if sk != nil {
		b := sk.Bytes()
		spendKeyHex = hex.EncodeToString(b[:])
	}
	viewKeyBytes := vk.Bytes()

	params := struct {
		Filename string `json:"filename"`
		Password string `json:"password"`
		Address  string `json:"address"`
		SpendKey string `json:"spendkey"`
		ViewKey  string `json:"viewkey"`
	}{
		Filename: filename,
		Password: password,
		Address:  string(address),
		SpendKey: spendKeyHex,
		ViewKey:  hex.EncodeToString(viewKeyBytes[:]),
	}

	return postRPC(ctx, c.endpoint, "generate_from_keys", params, nil)
}

func (c *client) GetHeight(ctx context.Context) (uint, error) {
	var out getHeightResponse
	if err := postRPC(ctx, c.endpoint, "get_height", struct{}{}, &out); err != nil {
		return 0, err
	}
	return out.Height, nil
}

func (c *client) Refresh(ctx context.Context) error {
	return postRPC(ctx, c.endpoint, "refresh", struct{}{}, nil)
}

func (c *client) CreateWallet(ctx context.Context, filename, password string) error {
	params := struct {
		Filename string `json:"filename"`
		Password string `json:"password"`
		Language string `json:"language"`
	}{filename, password, "English"}
	return postRPC(ctx, c.endpoint, "create_wallet", params, nil)
}

func (c *client) OpenWallet(ctx context.Context, filename, password string) error {
	params := struct {
		Filename string `json:"filename"`
		Password string `json:"password"`
	}{filename, password}
	return postRPC(ctx, c.endpoint, "open_wallet", params, nil)
}

func (c *client) CloseWallet(ctx context.Context) error {
	return postRPC(ctx, c.endpoint, "close_wallet", struct{}{}, nil)
}

func (c *client) CheckTxKey(ctx context.Context, txHash, txKey string, address mcrypto.Address) (uint64, uint64, bool, error) {
	params := struct {
		TxID    string `json:"txid"`
		TxKey   string `json:"tx_key"`
		Address string `json:"address"`
	}{txHash, txKey, string(address)}

	var out checkTxKeyResponse
	if err := postRPC(ctx, c.endpoint, "check_tx_key", params, &out); err != nil {
		return 0, 0, false, fmt.Errorf("monero: check_tx_key: %w", err)
	}
	return out.Confirmations, out.Received, out.InPool, nil
}
