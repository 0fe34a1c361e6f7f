package coin

import (
	"context"
	"fmt"
	"math/big"

	"github.com/coinjam/service_layer/internal/chain"
	"github.com/coinjam/service_layer/internal/session"
	"github.com/coinjam/service_layer/pkg/logger"
)

// Distributor splits a deployed asset's supply pro-rata across the session's
// wallet-holding participants. Transfers run one at a time in join order so
// the on-chain history mirrors the session history.
type Distributor struct {
	platform       chain.Platform
	reservePercent int64
	log            *logger.Logger
}

// NewDistributor constructs a distributor. reservePercent of the supply stays
// with the deployer; values outside [0,100] fall back to the default of 10.
func NewDistributor(platform chain.Platform, reservePercent int, log *logger.Logger) *Distributor {
	if log == nil {
		log = logger.NewDefault("coin-distributor")
	}
	if reservePercent < 0 || reservePercent > 100 {
		reservePercent = 10
	}
	return &Distributor{
		platform:       platform,
		reservePercent: int64(reservePercent),
		log:            log,
	}
}

// Allocation is the outcome of one participant's share.
type Allocation struct {
	ParticipantID string   `json:"participant_id"`
	Wallet        string   `json:"wallet,omitempty"`
	Amount        *big.Int `json:"amount,omitempty"`
	TxHash        string   `json:"tx_hash,omitempty"`
	// Skipped marks a participant without a wallet; they receive nothing and
	// their would-be share is redistributed among the remaining recipients.
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DistributionResult summarizes a completed distribution round. Reserved plus
// the sum of transferred and failed allocation amounts always equals the
// starting balance.
type DistributionResult struct {
	Asset       string       `json:"asset"`
	Total       *big.Int     `json:"total"`
	Reserved    *big.Int     `json:"reserved"`
	Allocations []Allocation `json:"allocations"`
	Transferred int          `json:"transferred"`
	Failed      int          `json:"failed"`
}

// Distribute reads the deployer's balance of the asset and pushes equal shares
// to every participant with a wallet, in join order. Individual transfer
// failures are recorded on the allocation and do not abort the round.
func (d *Distributor) Distribute(ctx context.Context, sess *session.Session, asset, deployer string) (*DistributionResult, error) {
	total, err := d.platform.ReadBalance(ctx, asset, deployer)
	if err != nil {
		return nil, fmt.Errorf("read deployer balance: %w", err)
	}

	log := d.log.WithField("session_id", sess.ID).WithField("asset", asset)

	result := &DistributionResult{
		Asset: asset,
		Total: total,
	}

	var recipients []session.Participant
	for _, p := range sess.OrderedParticipants() {
		if p.WalletAddress == "" {
			result.Allocations = append(result.Allocations, Allocation{
				ParticipantID: p.ID,
				Skipped:       true,
			})
			continue
		}
		recipients = append(recipients, p)
	}

	reserved := new(big.Int).Div(
		new(big.Int).Mul(total, big.NewInt(d.reservePercent)),
		big.NewInt(100),
	)
	if len(recipients) == 0 {
		result.Reserved = total
		log.Warn("no participants have wallets; entire supply stays reserved")
		return result, nil
	}

	distributable := new(big.Int).Sub(total, reserved)
	share := new(big.Int).Div(distributable, big.NewInt(int64(len(recipients))))
	// Integer division leaves a remainder; it accrues to the reserve so the
	// sum of all allocations and the reserve matches the starting balance.
	remainder := new(big.Int).Mod(distributable, big.NewInt(int64(len(recipients))))
	result.Reserved = new(big.Int).Add(reserved, remainder)

	for _, p := range recipients {
		alloc := Allocation{
			ParticipantID: p.ID,
			Wallet:        p.WalletAddress,
			Amount:        new(big.Int).Set(share),
		}

		txHash, err := d.platform.Transfer(ctx, asset, p.WalletAddress, share)
		if err != nil {
			alloc.Error = err.Error()
			result.Failed++
			log.WithError(err).
				WithField("participant", p.ID).
				WithField("wallet", p.WalletAddress).
				Warn("share transfer failed")
		} else {
			alloc.TxHash = txHash
			result.Transferred++
		}
		result.Allocations = append(result.Allocations, alloc)

		if ctx.Err() != nil {
			return result, ctx.Err()
		}
	}

	log.WithField("recipients", len(recipients)).
		WithField("transferred", result.Transferred).
		WithField("failed", result.Failed).
		WithField("share", share.String()).
		Info("distribution round complete")
	return result, nil
}
