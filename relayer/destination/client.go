// Package destination talks to the destination/settlement chain: it submits
// sealed vault controller transactions, checks their inclusion, and reports
// closed settlement batches. Everything else about the chain stays behind the
// JSON-RPC boundary.
package destination

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"github.com/vaultbridge/relay-node/relayer/store"
)

const dialTimeout = 30 * time.Second

// Client is a JSON-RPC client with failover across multiple endpoints.
type Client struct {
	clients []*rpc.Client
	logger  zerolog.Logger
}

// NewClient dials the given endpoints. Endpoints that fail to connect are
// skipped; at least one working endpoint is required.
func NewClient(rpcURLs []string, logger zerolog.Logger) (*Client, error) {
	if len(rpcURLs) == 0 {
		return nil, fmt.Errorf("no RPC URLs provided")
	}

	log := logger.With().Str("component", "destination_client").Logger()
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	clients := make([]*rpc.Client, 0, len(rpcURLs))
	for _, url := range rpcURLs {
		client, err := rpc.DialContext(ctx, url)
		if err != nil {
			log.Warn().Err(err).Str("url", url).Msg("failed to connect to RPC endpoint, skipping")
			continue
		}
		clients = append(clients, client)
		log.Info().Str("url", url).Msg("connected to RPC endpoint")
	}

	if len(clients) == 0 {
		return nil, fmt.Errorf("failed to connect to any RPC endpoints")
	}

	return &Client{clients: clients, logger: log}, nil
}

// Close closes all underlying connections.
func (c *Client) Close() {
	for _, client := range c.clients {
		client.Close()
	}
}

// call executes fn against each endpoint in turn until one succeeds.
func (c *Client) call(ctx context.Context, operation string, fn func(*rpc.Client) error) error {
	var lastErr error
	for i, client := range c.clients {
		if err := fn(client); err != nil {
			lastErr = err
			c.logger.Warn().
				Err(err).
				Str("operation", operation).
				Int("endpoint", i).
				Msg("endpoint call failed, trying next")
			continue
		}
		return nil
	}
	return fmt.Errorf("all endpoints failed for %s: %w", operation, lastErr)
}

// batchSubmission is the wire form of a sealed controller transaction.
type batchSubmission struct {
	L1BatchNumber    hexutil.Uint64 `json:"l1BatchNumber"`
	TotalShares      string         `json:"totalShares"`
	MessageHashCount hexutil.Uint64 `json:"messageHashCount"`
	MessageHashes    []string       `json:"messageHashes"`
}

// SubmitBatch implements aggregator.Submitter.
func (c *Client) SubmitBatch(ctx context.Context, batch *store.VaultControllerTransaction, members []store.Transaction) (string, error) {
	hashes := make([]string, 0, len(members))
	for _, m := range members {
		hashes = append(hashes, m.BridgeInitiatedTxHash)
	}

	submission := batchSubmission{
		L1BatchNumber:    hexutil.Uint64(batch.L1BatchNumber),
		TotalShares:      batch.TotalShares,
		MessageHashCount: hexutil.Uint64(batch.MessageHashCount),
		MessageHashes:    hashes,
	}

	var txHash string
	err := c.call(ctx, "vault_submitBatch", func(client *rpc.Client) error {
		return client.CallContext(ctx, &txHash, "vault_submitBatch", submission)
	})
	if err != nil {
		return "", err
	}
	return txHash, nil
}

// ConfirmBatch implements aggregator.Submitter. A transaction is confirmed
// once its receipt exists with a success status; a reverted receipt is an
// error the operator needs to see.
func (c *Client) ConfirmBatch(ctx context.Context, txHash string) (bool, error) {
	var receipt *struct {
		Status      hexutil.Uint64 `json:"status"`
		BlockNumber hexutil.Uint64 `json:"blockNumber"`
	}
	err := c.call(ctx, "eth_getTransactionReceipt", func(client *rpc.Client) error {
		return client.CallContext(ctx, &receipt, "eth_getTransactionReceipt", txHash)
	})
	if err != nil {
		return false, err
	}
	if receipt == nil {
		return false, nil
	}
	if receipt.Status != 1 {
		return false, fmt.Errorf("submission %s reverted in block %d", txHash, receipt.BlockNumber)
	}
	return true, nil
}

// ClosedBatches implements orchestrator.BatchSignal.
func (c *Client) ClosedBatches(ctx context.Context) ([]uint64, error) {
	var raw []hexutil.Uint64
	err := c.call(ctx, "vault_closedBatches", func(client *rpc.Client) error {
		return client.CallContext(ctx, &raw, "vault_closedBatches")
	})
	if err != nil {
		return nil, err
	}

	batches := make([]uint64, 0, len(raw))
	for _, b := range raw {
		batches = append(batches, uint64(b))
	}
	return batches, nil
}
