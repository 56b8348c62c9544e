package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/aptos-labs/aptos-go-sdk/crypto"
	"github.com/shopspring/decimal"
)

// AptosConfig selects the network and identifies the platform account that
// funds reward transfers.
type AptosConfig struct {
	// Network is one of mainnet, testnet, devnet or localnet.
	Network string
	// PrivateKey is the funding account's ed25519 private key in hex.
	PrivateKey string
}

// AptosClient implements Transferer on top of the Aptos fullnode API.
type AptosClient struct {
	client  *aptos.Client
	account *aptos.Account
}

func NewAptosClient(c AptosConfig) (*AptosClient, error) {
	network, err := networkConfig(c.Network)
	if err != nil {
		return nil, err
	}

	client, err := aptos.NewClient(network)
	if err != nil {
		return nil, fmt.Errorf("aptos: new client: %w", err)
	}

	key := &crypto.Ed25519PrivateKey{}
	if err := key.FromHex(strings.TrimPrefix(c.PrivateKey, "0x")); err != nil {
		return nil, fmt.Errorf("aptos: parse private key: %w", err)
	}

	account, err := aptos.NewAccountFromSigner(key)
	if err != nil {
		return nil, fmt.Errorf("aptos: platform account: %w", err)
	}

	return &AptosClient{
		client:  client,
		account: account,
	}, nil
}

func networkConfig(name string) (aptos.NetworkConfig, error) {
	switch name {
	case "mainnet":
		return aptos.MainnetConfig, nil
	case "testnet":
		return aptos.TestnetConfig, nil
	case "", "devnet":
		return aptos.DevnetConfig, nil
	case "localnet":
		return aptos.LocalnetConfig, nil
	}

	return aptos.NetworkConfig{}, fmt.Errorf("aptos: unknown network %q", name)
}

func (c *AptosClient) PlatformAddress() string {
	return c.account.Address.String()
}

func (c *AptosClient) AccountExists(_ context.Context, address string) (bool, error) {
	addr, err := parseAddress(address)
	if err != nil {
		return false, err
	}

	// The node returns an error for accounts that were never funded.
	if _, err := c.client.Account(addr); err != nil {
		return false, nil
	}

	return true, nil
}

// AccountBalance returns the APT balance of an address. Lookup failures
// read as zero: the balance is display-only and an unfunded or unknown
// account holds nothing anyway.
func (c *AptosClient) AccountBalance(_ context.Context, address string) (decimal.Decimal, error) {
	addr, err := parseAddress(address)
	if err != nil {
		return decimal.Zero, err
	}

	octas, err := c.client.AccountAPTBalance(addr)
	if err != nil {
		return decimal.Zero, nil
	}

	return APT(octas), nil
}

func (c *AptosClient) Transfer(_ context.Context, to string, octas uint64) (string, error) {
	addr, err := parseAddress(to)
	if err != nil {
		return "", err
	}

	payload, err := aptos.CoinTransferPayload(nil, addr, octas)
	if err != nil {
		return "", fmt.Errorf("aptos: build transfer payload: %w", err)
	}

	resp, err := c.client.BuildSignAndSubmitTransaction(c.account, aptos.TransactionPayload{
		Payload: payload,
	})
	if err != nil {
		return "", fmt.Errorf("aptos: submit transfer: %w", err)
	}

	return resp.Hash, nil
}

func (c *AptosClient) WaitForConfirmation(ctx context.Context, txHash string) error {
	done := make(chan error, 1)
	go func() {
		txn, err := c.client.WaitForTransaction(txHash)
		if err == nil && !txn.Success {
			err = fmt.Errorf("aptos: transaction %s failed: %s", txHash, txn.VmStatus)
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("aptos: wait for transaction %s: %w", txHash, ctx.Err())
	}
}

// ValidateAddress rejects strings that do not parse as an Aptos account
// address, so malformed wallets are caught before any transfer attempt.
func ValidateAddress(address string) error {
	_, err := parseAddress(address)
	return err
}

func parseAddress(address string) (aptos.AccountAddress, error) {
	addr := aptos.AccountAddress{}
	if err := addr.ParseStringRelaxed(address); err != nil {
		return aptos.AccountAddress{}, fmt.Errorf("aptos: invalid address %q: %w", address, err)
	}

	return addr, nil
}
