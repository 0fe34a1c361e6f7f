package coin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coinjam/service_layer/internal/metrics"
	"github.com/coinjam/service_layer/internal/session"
	"github.com/coinjam/service_layer/pkg/logger"
)

// Notifier receives session lifecycle announcements. Delivery is best-effort
// and must not block the pipeline.
type Notifier interface {
	SessionEvent(sess *session.Session, event string)
}

// Lifecycle event names passed to the Notifier.
const (
	EventMetadataReady = "metadata_ready"
	EventDeployed      = "deployed"
	EventDistributed   = "distributed"
	EventFailed        = "failed"
)

// Orchestrator drives a full session through generation, deployment, and
// distribution. It is the single owner of terminal status transitions: the
// pipeline components report errors and the orchestrator marks the session
// failed or complete.
type Orchestrator struct {
	repo         *session.Repository
	generator    *Generator
	deployer     *Deployer
	distributor  *Distributor
	deployWallet string
	notifier     Notifier
	metrics      *metrics.Metrics
	log          *logger.Logger

	// running tracks sessions with a pipeline in flight so a concurrent
	// trigger cannot deploy the same session twice.
	running sync.Map
}

// OrchestratorConfig wires the orchestrator's collaborators. Notifier and
// Metrics are optional.
type OrchestratorConfig struct {
	Repository  *session.Repository
	Generator   *Generator
	Deployer    *Deployer
	Distributor *Distributor
	// DeployWallet is the service wallet that receives the minted supply and
	// funds the distribution transfers.
	DeployWallet string
	Notifier     Notifier
	Metrics      *metrics.Metrics
}

// NewOrchestrator constructs an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NewDefault("coin-orchestrator")
	}
	return &Orchestrator{
		repo:         cfg.Repository,
		generator:    cfg.Generator,
		deployer:     cfg.Deployer,
		distributor:  cfg.Distributor,
		deployWallet: cfg.DeployWallet,
		notifier:     cfg.Notifier,
		metrics:      cfg.Metrics,
		log:          log,
	}
}

// RunGeneration executes the metadata pipeline for a full session and attaches
// the result. A pipeline failure marks the session failed before returning;
// readiness rejections (wrong status, pipeline already in flight) leave the
// session untouched.
func (o *Orchestrator) RunGeneration(ctx context.Context, sessionID string) (*session.Session, error) {
	release, err := o.claim(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()
	return o.runGeneration(ctx, sessionID)
}

func (o *Orchestrator) runGeneration(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := o.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusGenerating {
		return nil, fmt.Errorf("%w: session %s has status %s", ErrSessionNotReady, sessionID, sess.Status)
	}

	meta, err := o.generator.Run(ctx, sess)
	if err != nil {
		o.recordPipeline("generation", "failure")
		return nil, o.fail(ctx, sessionID, err)
	}
	o.recordPipeline("generation", "success")

	sess, err = o.repo.AttachMetadata(ctx, sessionID, meta)
	if err != nil {
		return nil, o.fail(ctx, sessionID, fmt.Errorf("attach metadata: %w", err))
	}

	o.notify(sess, EventMetadataReady)
	return sess, nil
}

// RunDeployment deploys the generated coin, distributes its supply, and marks
// the session complete. Deployment exhaustion marks the session failed;
// readiness rejections and individual distribution transfer failures do not.
func (o *Orchestrator) RunDeployment(ctx context.Context, sessionID string) (*session.Session, error) {
	release, err := o.claim(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()
	return o.runDeployment(ctx, sessionID)
}

func (o *Orchestrator) runDeployment(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := o.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusGenerating || sess.Metadata == nil {
		return nil, fmt.Errorf("%w: session %s has status %s", ErrSessionNotReady, sessionID, sess.Status)
	}

	result, err := o.deployer.Deploy(ctx, sess)
	o.recordDeployAttempts(result.Attempts)
	if err != nil {
		// A readiness rejection is not a pipeline failure: the session keeps
		// its current status so a corrected trigger can still succeed.
		if errors.Is(err, ErrSessionNotReady) {
			return nil, err
		}
		o.recordPipeline("deployment", "failure")
		return nil, o.fail(ctx, sessionID, err)
	}
	o.recordPipeline("deployment", "success")

	sess, err = o.repo.AttachMetadata(ctx, sessionID, session.GeneratedMetadata{
		DeployedAssetAddress: result.AssetAddress,
		DeploymentTxHash:     result.TxHash,
		DeploymentReceipt:    result.Receipt,
	})
	if err != nil {
		return nil, o.fail(ctx, sessionID, fmt.Errorf("attach deployment: %w", err))
	}
	o.notify(sess, EventDeployed)

	dist, err := o.distributor.Distribute(ctx, sess, result.AssetAddress, o.deployWallet)
	if err != nil {
		o.recordPipeline("distribution", "failure")
		return nil, o.fail(ctx, sessionID, fmt.Errorf("distribute supply: %w", err))
	}
	o.recordPipeline("distribution", "success")
	o.recordTransfers(dist)

	sess, err = o.repo.SetStatus(ctx, sessionID, session.StatusComplete)
	if err != nil {
		return nil, err
	}

	o.log.WithField("session_id", sessionID).
		WithField("asset", result.AssetAddress).
		WithField("transferred", dist.Transferred).
		WithField("failed_transfers", dist.Failed).
		Info("session complete")
	o.notify(sess, EventDistributed)
	return sess, nil
}

// Run chains generation and deployment for a session that has just filled. The
// session is claimed once for the whole chain, so a concurrent trigger on
// either stage is rejected while it runs.
func (o *Orchestrator) Run(ctx context.Context, sessionID string) (*session.Session, error) {
	release, err := o.claim(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := o.runGeneration(ctx, sessionID); err != nil {
		return nil, err
	}
	return o.runDeployment(ctx, sessionID)
}

// claim marks the session's pipeline as in flight. A second claim before the
// returned release runs is rejected with ErrSessionNotReady.
func (o *Orchestrator) claim(sessionID string) (func(), error) {
	if _, loaded := o.running.LoadOrStore(sessionID, struct{}{}); loaded {
		return nil, fmt.Errorf("%w: session %s pipeline already in flight", ErrSessionNotReady, sessionID)
	}
	return func() { o.running.Delete(sessionID) }, nil
}

// fail marks the session failed and returns the originating error. The status
// write is best-effort; a store failure here is logged, not surfaced, so the
// caller always sees the root cause.
func (o *Orchestrator) fail(ctx context.Context, sessionID string, cause error) error {
	sess, err := o.repo.SetStatus(ctx, sessionID, session.StatusFailed)
	if err != nil {
		o.log.WithError(err).WithField("session_id", sessionID).Error("failed to mark session failed")
	} else {
		o.notify(sess, EventFailed)
	}
	o.log.WithError(cause).WithField("session_id", sessionID).Error("session pipeline failed")
	return cause
}

func (o *Orchestrator) notify(sess *session.Session, event string) {
	if o.notifier == nil {
		return
	}
	go o.notifier.SessionEvent(sess, event)
}

func (o *Orchestrator) recordPipeline(stage, outcome string) {
	if o.metrics != nil {
		o.metrics.RecordPipeline(stage, outcome)
	}
}

func (o *Orchestrator) recordDeployAttempts(attempts int) {
	if o.metrics == nil {
		return
	}
	for i := 0; i < attempts; i++ {
		o.metrics.RecordDeployAttempt()
	}
}

func (o *Orchestrator) recordTransfers(dist *DistributionResult) {
	if o.metrics == nil {
		return
	}
	for _, alloc := range dist.Allocations {
		switch {
		case alloc.Skipped:
			o.metrics.RecordTransfer("skipped")
		case alloc.Error != "":
			o.metrics.RecordTransfer("failure")
		default:
			o.metrics.RecordTransfer("success")
		}
	}
}
