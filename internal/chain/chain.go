// Package chain abstracts the on-chain transfer collaborator used by
// reward settlement. Amounts cross this boundary in octas, the smallest
// unit of APT.
package chain

import (
	"context"

	"github.com/shopspring/decimal"
)

// OctasPerAPT is the conversion factor between APT and its smallest unit.
const OctasPerAPT = 100_000_000

// Transferer executes coin transfers from the platform's funding account.
type Transferer interface {
	// PlatformAddress returns the funding account's address.
	PlatformAddress() string

	// AccountExists reports whether the account is present on chain. The
	// platform account missing means it was never funded on this network,
	// which settlement treats as simulation mode.
	AccountExists(ctx context.Context, address string) (bool, error)

	// Transfer submits a transfer of the given amount of octas to the
	// destination address and returns the transaction hash.
	Transfer(ctx context.Context, to string, octas uint64) (string, error)

	// WaitForConfirmation blocks until the transaction is confirmed or the
	// context expires.
	WaitForConfirmation(ctx context.Context, txHash string) error
}

// Octas converts a decimal APT amount to octas, truncating anything below
// the smallest unit.
func Octas(amount decimal.Decimal) uint64 {
	return uint64(amount.Shift(8).IntPart())
}

// APT converts an octa amount back to decimal APT.
func APT(octas uint64) decimal.Decimal {
	return decimal.New(int64(octas), -8)
}
