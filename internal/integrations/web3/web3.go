// Package web3 is a read-only blockchain integration over an Ethereum
// JSON-RPC endpoint.
package web3

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	xerrors "quackcore/internal/errors"
	"quackcore/pkg/capability"
)

// PluginName is the registry name of the web3 integration.
const PluginName = "web3"

// Operation names exposed by the integration.
const (
	OpChainSnapshot = "chain_snapshot"
	OpGetBalance    = "get_balance"
)

// Snapshot captures the head of the chain at one moment.
type Snapshot struct {
	ChainID     string    `json:"chain_id"`
	BlockNumber uint64    `json:"block_number"`
	BlockHash   string    `json:"block_hash"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Plugin implements capability.Integration over an RPC client.
type Plugin struct {
	rpcURL string
	client *ethclient.Client
}

// New returns an unconfigured plugin instance, for use as a factory.
func New() capability.Instance { return &Plugin{} }

// Configure implements capability.Instance.
func (p *Plugin) Configure(cfg map[string]any) error {
	p.rpcURL, _ = cfg["rpc_url"].(string)
	return nil
}

// Open implements capability.Instance.
func (p *Plugin) Open(ctx context.Context) error {
	if p.rpcURL == "" {
		return xerrors.New(xerrors.CodeInitializationFailure, "web3 integration requires rpc_url")
	}
	client, err := ethclient.DialContext(ctx, p.rpcURL)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err,
			fmt.Sprintf("dialing %s failed", p.rpcURL))
	}
	p.client = client
	return nil
}

// Close implements capability.Instance.
func (p *Plugin) Close(_ context.Context) error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}

// Operations implements capability.Integration. Both operations are reads
// and safe to retry.
func (p *Plugin) Operations() []capability.Operation {
	return []capability.Operation{
		{Name: OpChainSnapshot, Idempotent: true},
		{Name: OpGetBalance, Idempotent: true},
	}
}

// Call implements capability.Integration.
func (p *Plugin) Call(ctx context.Context, op string, args map[string]any) (any, error) {
	switch op {
	case OpChainSnapshot:
		return p.snapshot(ctx)
	case OpGetBalance:
		address, _ := args["address"].(string)
		if !common.IsHexAddress(address) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("argument address %q is not a hex address", address))
		}
		balance, err := p.client.BalanceAt(ctx, common.HexToAddress(address), nil)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodePluginFault, err,
				fmt.Sprintf("querying balance of %s failed", address), xerrors.WithRetryable(true))
		}
		return balance.String(), nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("web3 integration does not expose operation %s", op))
	}
}

// Paginate implements capability.Integration. No web3 operation paginates.
func (p *Plugin) Paginate(_ context.Context, op string, _ map[string]any) (capability.Pager, error) {
	return nil, xerrors.New(xerrors.CodeInvalidArgument,
		fmt.Sprintf("web3 operation %s is not paginated", op))
}

func (p *Plugin) snapshot(ctx context.Context) (*Snapshot, error) {
	chainID, err := p.client.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePluginFault, err, "querying chain id failed",
			xerrors.WithRetryable(true))
	}
	header, err := p.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePluginFault, err, "querying chain head failed",
			xerrors.WithRetryable(true))
	}
	return &Snapshot{
		ChainID:     chainID.String(),
		BlockNumber: header.Number.Uint64(),
		BlockHash:   header.Hash().Hex(),
		ObservedAt:  time.Now().UTC(),
	}, nil
}
