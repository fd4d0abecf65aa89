package ledger

import (
	"context"
	"time"
)

// Client is the query-service interface every builder component depends on.
//
// All calls are network RPCs. For address and asset lookups a 404-style
// response means "empty result", not an error; implementations translate
// accordingly so callers never special-case indexer status codes.
type Client interface {
	// GetUtxos returns the unspent outputs at an address. Unknown
	// addresses return an empty slice.
	GetUtxos(ctx context.Context, address string) ([]Utxo, error)

	// FindUtxoByToken locates the single UTXO holding the given marker
	// token. Returns a NotFoundError when no holder exists.
	FindUtxoByToken(ctx context.Context, asset AssetID) (*Utxo, error)

	// GetTransactionUtxos returns the outputs a transaction produced, or a
	// NotFoundError while the transaction is unknown to the indexer.
	GetTransactionUtxos(ctx context.Context, txID [32]byte) ([]Utxo, error)

	// GetLatestSlot returns the slot of the chain tip.
	GetLatestSlot(ctx context.Context) (uint64, error)

	// GetCostModel returns the current protocol parameters.
	GetCostModel(ctx context.Context) (*ProtocolParams, error)

	// Submit broadcasts signed transaction bytes and returns the id the
	// service reports. Once Submit has been called the transaction may be
	// in flight even if an error comes back; callers must not blindly
	// retry (see AwaitConfirmation and the delivery marker check).
	Submit(ctx context.Context, signedTx []byte) ([32]byte, error)

	// GetAddressTransactions returns ids of transactions touching the
	// address within the slot range, oldest first.
	GetAddressTransactions(ctx context.Context, address string, fromSlot, toSlot uint64) ([][32]byte, error)
}

// AwaitConfirmation polls for a submitted transaction's outputs with a fixed
// backoff. It returns true once the indexer knows the transaction. A timeout
// is reported as (false, nil), meaning "not yet confirmed" rather than
// "failed", because the submission may still land after the last poll.
func AwaitConfirmation(ctx context.Context, c Client, txID [32]byte, attempts int, backoff time.Duration) (bool, error) {
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(backoff):
			}
		}
		_, err := c.GetTransactionUtxos(ctx, txID)
		if err == nil {
			return true, nil
		}
		if !IsNotFound(err) {
			return false, err
		}
	}
	return false, nil
}
