package coin

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinjam/service_layer/internal/genai"
	"github.com/coinjam/service_layer/internal/session"
	"github.com/coinjam/service_layer/internal/store"
)

type orchestratorFixture struct {
	repo     *session.Repository
	text     *MockTextGenerator
	image    *MockImageGenerator
	pinner   *MockPinner
	platform *MockPlatform
	notifier *MockNotifier
	orch     *Orchestrator
}

func newOrchestratorFixture() *orchestratorFixture {
	f := &orchestratorFixture{
		repo:     session.NewRepository(store.NewMemoryStore(), session.RepositoryConfig{}, nil),
		text:     &MockTextGenerator{Meta: testCoinMeta()},
		image:    &MockImageGenerator{Image: []byte("png-bytes")},
		pinner:   &MockPinner{ByteHash: "imgHash123", JSONHash: "metaHash456"},
		platform: &MockPlatform{ReceiptRaw: deployedReceipt, Balance: big.NewInt(1000)},
		notifier: &MockNotifier{},
	}
	f.orch = NewOrchestrator(OrchestratorConfig{
		Repository:   f.repo,
		Generator:    NewGenerator(f.text, f.image, nil, f.pinner, GeneratorConfig{}, nil),
		Deployer:     NewDeployer(f.platform, DeployerConfig{Beneficiary: "0xservice", MaxAttempts: 3, RetryDelay: time.Millisecond}, nil),
		Distributor:  NewDistributor(f.platform, 10, nil),
		DeployWallet: "0xservice",
		Notifier:     f.notifier,
	}, nil)
	return f
}

// fillSession creates a two-slot session and fills it, leaving it generating.
func (f *orchestratorFixture) fillSession(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	sess, err := f.repo.Create(ctx, "fid:100", session.CreateConfig{
		MaxParticipants: 2,
		CreatorPrompt:   "cats",
		CreatorWallet:   "0xaaa",
	})
	require.NoError(t, err)

	sess, err = f.repo.AddParticipant(ctx, sess.ID, session.Participant{
		ID:            "fid:200",
		WalletAddress: "0xbbb",
		PromptText:    "lasers",
	})
	require.NoError(t, err)
	require.Equal(t, session.StatusGenerating, sess.Status)
	return sess.ID
}

func (f *orchestratorFixture) waitForEvent(t *testing.T, event string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, seen := range f.notifier.Seen() {
			if seen == event {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("event %q never observed; saw %v", event, f.notifier.Seen())
}

func TestOrchestrator_Run(t *testing.T) {
	f := newOrchestratorFixture()
	id := f.fillSession(t)

	sess, err := f.orch.Run(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, session.StatusComplete, sess.Status)
	require.NotNil(t, sess.Metadata)
	assert.Equal(t, "Laser Cats", sess.Metadata.Name)
	assert.Equal(t, "ipfs://metaHash456", sess.Metadata.MetadataContentURI)
	assert.Equal(t, "0xcoin00", sess.Metadata.DeployedAssetAddress)
	assert.NotEmpty(t, sess.Metadata.DeploymentTxHash)

	// Participants were paid in join order.
	require.Len(t, f.platform.Transfers, 2)
	assert.Equal(t, "0xaaa", f.platform.Transfers[0].To)
	assert.Equal(t, "0xbbb", f.platform.Transfers[1].To)
	assert.Equal(t, "450", f.platform.Transfers[0].Amount.String())

	// The brief fed to the text model fuses the prompts in join order.
	require.Len(t, f.text.Briefs, 1)
	assert.Equal(t, "cats | lasers", f.text.Briefs[0])

	// A completed session no longer appears active.
	active, err := f.repo.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)

	f.waitForEvent(t, EventDistributed)
}

func TestOrchestrator_Run_DeployFailsTwiceThenSucceeds(t *testing.T) {
	f := newOrchestratorFixture()
	f.platform.SubmitErrs = []error{errors.New("mempool full"), errors.New("mempool full")}
	id := f.fillSession(t)

	sess, err := f.orch.Run(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, session.StatusComplete, sess.Status)
	assert.Equal(t, 3, f.platform.Submits, "exactly three deployment attempts")
}

func TestOrchestrator_RunGeneration_FailureMarksSessionFailed(t *testing.T) {
	f := newOrchestratorFixture()
	f.text.Err = errors.New("model unavailable")
	id := f.fillSession(t)

	_, err := f.orch.RunGeneration(context.Background(), id)
	require.ErrorIs(t, err, ErrPipelineFailed)

	sess, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, sess.Status)
	assert.Nil(t, sess.Metadata)

	// Failed sessions are deindexed alongside completed ones.
	active, err := f.repo.ListActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)

	f.waitForEvent(t, EventFailed)
}

func TestOrchestrator_RunDeployment_ExhaustionMarksSessionFailed(t *testing.T) {
	f := newOrchestratorFixture()
	boom := errors.New("node unreachable")
	f.platform.SubmitErrs = []error{boom, boom, boom}
	id := f.fillSession(t)

	_, err := f.orch.RunGeneration(context.Background(), id)
	require.NoError(t, err)

	_, err = f.orch.RunDeployment(context.Background(), id)
	require.ErrorIs(t, err, ErrDeploymentFailed)

	sess, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, sess.Status)
	// Generated metadata survives the failed deployment for diagnostics.
	require.NotNil(t, sess.Metadata)
	assert.Equal(t, "Laser Cats", sess.Metadata.Name)
	assert.Empty(t, sess.Metadata.DeployedAssetAddress)
}

func TestOrchestrator_RunGeneration_RequiresGeneratingStatus(t *testing.T) {
	f := newOrchestratorFixture()

	sess, err := f.repo.Create(context.Background(), "fid:100", session.CreateConfig{
		MaxParticipants: 3,
		CreatorPrompt:   "cats",
	})
	require.NoError(t, err)

	_, err = f.orch.RunGeneration(context.Background(), sess.ID)
	require.ErrorIs(t, err, ErrSessionNotReady)
}

func TestOrchestrator_RunGeneration_UnknownSession(t *testing.T) {
	f := newOrchestratorFixture()
	_, err := f.orch.RunGeneration(context.Background(), "nope")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestOrchestrator_RunDeployment_RejectsPendingWithoutFailing(t *testing.T) {
	f := newOrchestratorFixture()
	ctx := context.Background()

	sess, err := f.repo.Create(ctx, "fid:100", session.CreateConfig{
		MaxParticipants: 3,
		CreatorPrompt:   "cats",
	})
	require.NoError(t, err)

	_, err = f.orch.RunDeployment(ctx, sess.ID)
	require.ErrorIs(t, err, ErrSessionNotReady)

	// The rejection must not consume the session: it stays pending and
	// listed, so later joins can still fill it.
	got, err := f.repo.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusPending, got.Status)

	active, err := f.repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, 0, f.platform.Submits)
}

func TestOrchestrator_RunDeployment_RejectsCompletedWithoutFailing(t *testing.T) {
	f := newOrchestratorFixture()
	ctx := context.Background()
	id := f.fillSession(t)

	_, err := f.orch.Run(ctx, id)
	require.NoError(t, err)

	_, err = f.orch.RunDeployment(ctx, id)
	require.ErrorIs(t, err, ErrSessionNotReady)

	got, err := f.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, session.StatusComplete, got.Status)
	assert.Equal(t, 1, f.platform.Submits, "no second deployment")
}

// gatedTextGenerator blocks inside metadata generation until released, so a
// test can overlap triggers with an in-flight pipeline run.
type gatedTextGenerator struct {
	meta    genai.CoinMeta
	entered chan struct{}
	release chan struct{}
}

func (g *gatedTextGenerator) GenerateCoinMeta(ctx context.Context, brief string) (genai.CoinMeta, error) {
	close(g.entered)
	<-g.release
	return g.meta, nil
}

func TestOrchestrator_ConcurrentTriggersRunPipelineOnce(t *testing.T) {
	f := newOrchestratorFixture()
	gate := &gatedTextGenerator{
		meta:    testCoinMeta(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	f.orch.generator = NewGenerator(gate, f.image, nil, f.pinner, GeneratorConfig{}, nil)
	id := f.fillSession(t)

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.Run(context.Background(), id)
		done <- err
	}()
	<-gate.entered

	// Both stage triggers bounce while the first run holds the session.
	_, err := f.orch.RunGeneration(context.Background(), id)
	require.ErrorIs(t, err, ErrSessionNotReady)
	_, err = f.orch.RunDeployment(context.Background(), id)
	require.ErrorIs(t, err, ErrSessionNotReady)

	close(gate.release)
	require.NoError(t, <-done)

	assert.Equal(t, 1, f.platform.Submits, "the coin deploys exactly once")
	assert.Len(t, f.platform.Transfers, 2)
}
