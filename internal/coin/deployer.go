package coin

import (
	"context"
	"fmt"
	"time"

	"github.com/coinjam/service_layer/internal/chain"
	"github.com/coinjam/service_layer/internal/ipfs"
	"github.com/coinjam/service_layer/internal/session"
	"github.com/coinjam/service_layer/pkg/logger"
)

// Deployer submits the on-chain asset deployment for a session with finalized
// metadata. It is a linear retry loop: submit, confirm, extract; any failure
// in an attempt counts against the bounded maximum.
type Deployer struct {
	platform    chain.Platform
	beneficiary string
	maxAttempts int
	retryDelay  time.Duration
	log         *logger.Logger
}

// DeployerConfig configures the retry loop.
type DeployerConfig struct {
	// Beneficiary is the payout identity used when the session creator has no
	// wallet of their own.
	Beneficiary string
	MaxAttempts int
	RetryDelay  time.Duration
}

// NewDeployer constructs a deployer.
func NewDeployer(platform chain.Platform, cfg DeployerConfig, log *logger.Logger) *Deployer {
	if log == nil {
		log = logger.NewDefault("coin-deployer")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Deployer{
		platform:    platform,
		beneficiary: cfg.Beneficiary,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		log:         log,
	}
}

// DeployResult carries the deployed asset references. Attempts counts the
// submit cycles that actually ran and is populated on failure too, so callers
// can account for chain traffic without guessing.
type DeployResult struct {
	AssetAddress string
	TxHash       string
	Receipt      string
	Attempts     int
}

// Deploy validates the metadata locator, then runs the bounded submit/confirm/
// extract loop. Exhaustion wraps ErrDeploymentFailed with the last error and
// the attempt count; the caller owns marking the session failed.
func (d *Deployer) Deploy(ctx context.Context, sess *session.Session) (DeployResult, error) {
	meta := sess.Metadata
	if sess.Status != session.StatusGenerating || meta == nil {
		return DeployResult{}, fmt.Errorf("%w: session %s has status %s", ErrSessionNotReady, sess.ID, sess.Status)
	}
	// Fail fast on a malformed locator rather than paying for a doomed deployment.
	if _, ok := ipfs.HashFromURI(meta.MetadataContentURI); !ok {
		return DeployResult{}, fmt.Errorf("%w: malformed metadata locator %q", ErrSessionNotReady, meta.MetadataContentURI)
	}

	beneficiary := d.beneficiary
	if creator, ok := sess.Participants[sess.CreatorID]; ok && creator.WalletAddress != "" {
		beneficiary = creator.WalletAddress
	}

	params := chain.DeploymentParams{
		Name:        meta.Name,
		Symbol:      meta.Symbol,
		MetadataURI: meta.MetadataContentURI,
		Beneficiary: beneficiary,
	}
	log := d.log.WithField("session_id", sess.ID).WithField("symbol", meta.Symbol)

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return DeployResult{Attempts: attempt - 1}, ctx.Err()
			case <-time.After(d.retryDelay):
			}
		}

		result, err := d.attempt(ctx, params)
		if err == nil {
			result.Attempts = attempt
			log.WithField("attempt", attempt).
				WithField("asset", result.AssetAddress).
				WithField("tx_hash", result.TxHash).
				Info("coin deployed")
			return result, nil
		}

		lastErr = err
		log.WithError(err).
			WithField("attempt", attempt).
			WithField("max_attempts", d.maxAttempts).
			Warn("deployment attempt failed")
	}

	return DeployResult{Attempts: d.maxAttempts}, fmt.Errorf("%w after %d attempts: %v", ErrDeploymentFailed, d.maxAttempts, lastErr)
}

// attempt performs one full submit/confirm/extract cycle. A confirmation that
// never terminates and a receipt missing the deployment event are treated
// identically: the attempt failed.
func (d *Deployer) attempt(ctx context.Context, params chain.DeploymentParams) (DeployResult, error) {
	call, err := d.platform.BuildDeploymentCall(ctx, params)
	if err != nil {
		return DeployResult{}, fmt.Errorf("build call: %w", err)
	}

	txHash, err := d.platform.Submit(ctx, call)
	if err != nil {
		return DeployResult{}, fmt.Errorf("submit: %w", err)
	}

	receipt, err := d.platform.AwaitConfirmation(ctx, txHash)
	if err != nil {
		return DeployResult{}, fmt.Errorf("confirm %s: %w", txHash, err)
	}

	address, ok := d.platform.ExtractDeployedAddress(receipt)
	if !ok {
		return DeployResult{}, fmt.Errorf("receipt for %s carries no deployment event", txHash)
	}

	return DeployResult{
		AssetAddress: address,
		TxHash:       txHash,
		Receipt:      string(receipt.Raw),
	}, nil
}
