package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/tidwall/gjson"
)

// Errors
var (
	// ErrConfirmationTimeout reports a submission that never reached a
	// terminal on-chain state within the confirmation window.
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")
	// ErrTxFailed reports a transaction that reached a terminal failed state.
	ErrTxFailed = errors.New("transaction failed on-chain")
)

// DeploymentParams describes the fungible asset to deploy.
type DeploymentParams struct {
	Name        string
	Symbol      string
	MetadataURI string
	Beneficiary string
}

// CallData is an opaque prebuilt deployment call.
type CallData struct {
	Payload string `json:"payload"`
}

// Receipt is a terminal transaction result. Raw retains the node's full
// receipt document for diagnostics and address extraction.
type Receipt struct {
	TxHash    string
	Confirmed bool
	Raw       json.RawMessage
}

// Platform abstracts the coin-issuance chain operations consumed by the
// deployment orchestrator and the distribution step.
type Platform interface {
	BuildDeploymentCall(ctx context.Context, params DeploymentParams) (CallData, error)
	Submit(ctx context.Context, call CallData) (string, error)
	AwaitConfirmation(ctx context.Context, txHash string) (*Receipt, error)
	// ExtractDeployedAddress pulls the deployed asset address from the receipt
	// log, reporting false when the expected event is absent.
	ExtractDeployedAddress(receipt *Receipt) (string, bool)
	ReadBalance(ctx context.Context, asset, holder string) (*big.Int, error)
	Transfer(ctx context.Context, asset, to string, amount *big.Int) (string, error)
}

// PlatformClient implements Platform over the node's JSON-RPC surface.
type PlatformClient struct {
	rpc            *RPCClient
	confirmTimeout time.Duration
	pollInterval   time.Duration
}

// PlatformConfig configures the platform client.
type PlatformConfig struct {
	RPCURL         string
	Timeout        time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// NewPlatformClient creates a platform client.
func NewPlatformClient(cfg PlatformConfig) (*PlatformClient, error) {
	rpc, err := NewRPCClient(RPCConfig{RPCURL: cfg.RPCURL, Timeout: cfg.Timeout})
	if err != nil {
		return nil, err
	}

	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout == 0 {
		confirmTimeout = 90 * time.Second
	}
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 3 * time.Second
	}

	return &PlatformClient{
		rpc:            rpc,
		confirmTimeout: confirmTimeout,
		pollInterval:   pollInterval,
	}, nil
}

// BuildDeploymentCall asks the node to construct the asset deployment call.
func (p *PlatformClient) BuildDeploymentCall(ctx context.Context, params DeploymentParams) (CallData, error) {
	result, err := p.rpc.Call(ctx, "coin_buildDeployment", []interface{}{map[string]string{
		"name":         params.Name,
		"symbol":       params.Symbol,
		"metadata_uri": params.MetadataURI,
		"beneficiary":  params.Beneficiary,
	}})
	if err != nil {
		return CallData{}, fmt.Errorf("build deployment call: %w", err)
	}

	var call CallData
	if err := json.Unmarshal(result, &call); err != nil {
		return CallData{}, fmt.Errorf("decode deployment call: %w", err)
	}
	if call.Payload == "" {
		return CallData{}, fmt.Errorf("node returned empty deployment call")
	}
	return call, nil
}

// Submit sends the prebuilt call and returns the transaction hash.
func (p *PlatformClient) Submit(ctx context.Context, call CallData) (string, error) {
	result, err := p.rpc.Call(ctx, "coin_submit", []interface{}{call.Payload})
	if err != nil {
		return "", fmt.Errorf("submit deployment: %w", err)
	}

	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", fmt.Errorf("decode tx hash: %w", err)
	}
	return txHash, nil
}

// AwaitConfirmation polls for the transaction receipt until it reaches a
// terminal state or the confirmation window closes.
func (p *PlatformClient) AwaitConfirmation(ctx context.Context, txHash string) (*Receipt, error) {
	deadline := time.Now().Add(p.confirmTimeout)

	for {
		result, err := p.rpc.Call(ctx, "coin_getReceipt", []interface{}{txHash})
		if err != nil {
			return nil, fmt.Errorf("poll receipt: %w", err)
		}

		status := gjson.GetBytes(result, "status").String()
		switch status {
		case "confirmed":
			return &Receipt{TxHash: txHash, Confirmed: true, Raw: result}, nil
		case "failed":
			return &Receipt{TxHash: txHash, Raw: result}, fmt.Errorf("%w: %s", ErrTxFailed, txHash)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrConfirmationTimeout, txHash)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

// deployEventName is the receipt log event announcing the deployed asset.
const deployEventName = "CoinDeployed"

// ExtractDeployedAddress scans the receipt log for the deployment event.
func (p *PlatformClient) ExtractDeployedAddress(receipt *Receipt) (string, bool) {
	return ExtractDeployedAddress(receipt)
}

// ExtractDeployedAddress scans a receipt's log entries for the CoinDeployed
// event and returns its asset address. A top-level contract_address field is
// honored first for direct-creation receipts.
func ExtractDeployedAddress(receipt *Receipt) (string, bool) {
	if receipt == nil || len(receipt.Raw) == 0 {
		return "", false
	}

	if addr := gjson.GetBytes(receipt.Raw, "contract_address").String(); addr != "" {
		return addr, true
	}

	var found string
	gjson.GetBytes(receipt.Raw, "logs").ForEach(func(_, entry gjson.Result) bool {
		if entry.Get("event").String() != deployEventName {
			return true
		}
		if addr := entry.Get("asset").String(); addr != "" {
			found = addr
			return false
		}
		return true
	})
	return found, found != ""
}

// ReadBalance returns holder's balance of the asset.
func (p *PlatformClient) ReadBalance(ctx context.Context, asset, holder string) (*big.Int, error) {
	result, err := p.rpc.Call(ctx, "coin_balanceOf", []interface{}{asset, holder})
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}

	var raw string
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	balance, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("malformed balance %q", raw)
	}
	return balance, nil
}

// Transfer sends amount of the asset to the recipient, waiting for the
// transfer to confirm so sequential transfers order deterministically.
func (p *PlatformClient) Transfer(ctx context.Context, asset, to string, amount *big.Int) (string, error) {
	result, err := p.rpc.Call(ctx, "coin_transfer", []interface{}{asset, to, amount.String()})
	if err != nil {
		return "", fmt.Errorf("transfer: %w", err)
	}

	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", fmt.Errorf("decode transfer hash: %w", err)
	}
	if _, err := p.AwaitConfirmation(ctx, txHash); err != nil {
		return "", fmt.Errorf("confirm transfer: %w", err)
	}
	return txHash, nil
}
