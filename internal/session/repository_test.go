package session

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/coinjam/service_layer/internal/store"
)

func newTestRepo() *Repository {
	return NewRepository(store.NewMemoryStore(), RepositoryConfig{}, nil)
}

func TestRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo()

	var sessionID string

	t.Run("CreateWithCreatorPrompt", func(t *testing.T) {
		sess, err := repo.Create(ctx, "fid:100", CreateConfig{
			MaxParticipants: 2,
			JoinPolicy:      PolicyOpen,
			CreatorPrompt:   "cats",
			CreatorWallet:   "0xaaa",
		})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		sessionID = sess.ID
		if sess.Status != StatusPending {
			t.Errorf("expected status %s, got %s", StatusPending, sess.Status)
		}
		if sess.ParticipantCount() != 1 {
			t.Errorf("expected 1 participant, got %d", sess.ParticipantCount())
		}
		creator := sess.Participants["fid:100"]
		if creator.JoinIndex != 0 {
			t.Errorf("expected creator join index 0, got %d", creator.JoinIndex)
		}
	})

	t.Run("SecondJoinTriggersGenerating", func(t *testing.T) {
		sess, err := repo.AddParticipant(ctx, sessionID, Participant{
			ID: "fid:200", PromptText: "lasers", WalletAddress: "0xbbb",
		})
		if err != nil {
			t.Fatalf("AddParticipant failed: %v", err)
		}
		if sess.Status != StatusGenerating {
			t.Errorf("expected status %s after filling session, got %s", StatusGenerating, sess.Status)
		}

		// Assert via repository state, not the returned value.
		reloaded, err := repo.Get(ctx, sessionID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if reloaded.Status != StatusGenerating {
			t.Errorf("persisted status = %s, want %s", reloaded.Status, StatusGenerating)
		}
	})

	t.Run("JoinAfterFullRejected", func(t *testing.T) {
		_, err := repo.AddParticipant(ctx, sessionID, Participant{ID: "fid:300", PromptText: "extra"})
		if err == nil {
			t.Fatal("expected join on full session to fail")
		}
	})

	t.Run("AttachMetadataKeepsStatus", func(t *testing.T) {
		sess, err := repo.AttachMetadata(ctx, sessionID, GeneratedMetadata{
			Name: "LaserCat", Symbol: "LCAT", Description: "a coin",
			ImageContentURI: "ipfs://imgHash123", MetadataContentURI: "ipfs://metaHash456",
		})
		if err != nil {
			t.Fatalf("AttachMetadata failed: %v", err)
		}
		if sess.Status != StatusGenerating {
			t.Errorf("status changed by AttachMetadata: %s", sess.Status)
		}
		if sess.Metadata.ImageContentURI != "ipfs://imgHash123" {
			t.Errorf("unexpected image URI %s", sess.Metadata.ImageContentURI)
		}
	})

	t.Run("DeploymentFieldsMerge", func(t *testing.T) {
		sess, err := repo.AttachMetadata(ctx, sessionID, GeneratedMetadata{
			DeployedAssetAddress: "0xdeployed",
			DeploymentTxHash:     "0xtx",
		})
		if err != nil {
			t.Fatalf("AttachMetadata failed: %v", err)
		}
		if sess.Metadata.Name != "LaserCat" {
			t.Errorf("merge dropped name, got %q", sess.Metadata.Name)
		}
		if sess.Metadata.DeployedAssetAddress != "0xdeployed" {
			t.Errorf("merge missed address, got %q", sess.Metadata.DeployedAssetAddress)
		}
	})

	t.Run("CompleteRemovesFromActive", func(t *testing.T) {
		if _, err := repo.SetStatus(ctx, sessionID, StatusComplete); err != nil {
			t.Fatalf("SetStatus failed: %v", err)
		}
		active, err := repo.ListActive(ctx)
		if err != nil {
			t.Fatalf("ListActive failed: %v", err)
		}
		for _, s := range active {
			if s.ID == sessionID {
				t.Error("complete session still listed active")
			}
		}
	})
}

func TestRepository_CapacityOneGeneratesImmediately(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo()

	sess, err := repo.Create(ctx, "fid:1", CreateConfig{
		MaxParticipants: 1,
		CreatorPrompt:   "solo jam",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if sess.Status != StatusGenerating {
		t.Errorf("capacity-1 session with creator prompt should be generating, got %s", sess.Status)
	}
}

func TestRepository_CapacityInvariant(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo()

	sess, err := repo.Create(ctx, "fid:1", CreateConfig{MaxParticipants: 3})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	accepted := 0
	for i := 0; i < 10; i++ {
		_, err := repo.AddParticipant(ctx, sess.ID, Participant{
			ID:         "fid:" + strings.Repeat("9", i+1),
			PromptText: "p",
		})
		if err == nil {
			accepted++
		}
	}
	if accepted != 3 {
		t.Errorf("expected exactly 3 accepted joins, got %d", accepted)
	}

	reloaded, err := repo.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if reloaded.ParticipantCount() != 3 {
		t.Errorf("participant count %d exceeds capacity 3", reloaded.ParticipantCount())
	}
	if reloaded.Status != StatusGenerating {
		t.Errorf("expected generating, got %s", reloaded.Status)
	}
}

func TestRepository_ConcurrentLastSlot(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo()

	sess, err := repo.Create(ctx, "fid:1", CreateConfig{MaxParticipants: 2, CreatorPrompt: "seed"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const racers = 32
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = repo.AddParticipant(ctx, sess.ID, Participant{
				ID:         "fid:racer-" + strings.Repeat("x", n+1),
				PromptText: "race",
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one join to win the last slot, got %d", wins)
	}

	reloaded, err := repo.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if reloaded.ParticipantCount() != 2 {
		t.Errorf("participant count = %d, want 2", reloaded.ParticipantCount())
	}
	if reloaded.Status != StatusGenerating {
		t.Errorf("status = %s, want %s", reloaded.Status, StatusGenerating)
	}
}

func TestRepository_Validation(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo()

	t.Run("RejectsZeroCapacity", func(t *testing.T) {
		if _, err := repo.Create(ctx, "fid:1", CreateConfig{MaxParticipants: 0}); err == nil {
			t.Error("expected error for zero capacity")
		}
	})

	t.Run("RejectsUnknownPolicy", func(t *testing.T) {
		if _, err := repo.Create(ctx, "fid:1", CreateConfig{MaxParticipants: 2, JoinPolicy: "vip_only"}); err == nil {
			t.Error("expected error for unknown policy")
		}
	})

	t.Run("RejectsEmptyPrompt", func(t *testing.T) {
		sess, err := repo.Create(ctx, "fid:1", CreateConfig{MaxParticipants: 2})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if _, err := repo.AddParticipant(ctx, sess.ID, Participant{ID: "fid:2", PromptText: "   "}); err == nil {
			t.Error("expected error for blank prompt")
		}
	})

	t.Run("RejectsOverlongPrompt", func(t *testing.T) {
		sess, err := repo.Create(ctx, "fid:1", CreateConfig{MaxParticipants: 2})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		long := strings.Repeat("a", DefaultMaxPromptLength+1)
		if _, err := repo.AddParticipant(ctx, sess.ID, Participant{ID: "fid:2", PromptText: long}); err == nil {
			t.Error("expected error for overlong prompt")
		}
	})

	t.Run("RejectsDuplicateJoin", func(t *testing.T) {
		sess, err := repo.Create(ctx, "fid:1", CreateConfig{MaxParticipants: 3, CreatorPrompt: "seed"})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if _, err := repo.AddParticipant(ctx, sess.ID, Participant{ID: "fid:1", PromptText: "again"}); err != ErrAlreadyJoined {
			t.Errorf("expected ErrAlreadyJoined, got %v", err)
		}
	})

	t.Run("UnknownSession", func(t *testing.T) {
		if _, err := repo.AddParticipant(ctx, "missing", Participant{ID: "fid:2", PromptText: "p"}); err != ErrSessionNotFound {
			t.Errorf("expected ErrSessionNotFound, got %v", err)
		}
	})
}

func TestSession_OrderedParticipants(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo()

	sess, err := repo.Create(ctx, "fid:1", CreateConfig{MaxParticipants: 3, CreatorPrompt: "first"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for _, id := range []string{"fid:2", "fid:3"} {
		if _, err := repo.AddParticipant(ctx, sess.ID, Participant{ID: id, PromptText: "p " + id}); err != nil {
			t.Fatalf("AddParticipant %s failed: %v", id, err)
		}
	}

	reloaded, err := repo.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	ordered := reloaded.OrderedParticipants()
	want := []string{"fid:1", "fid:2", "fid:3"}
	for i, p := range ordered {
		if p.ID != want[i] {
			t.Errorf("ordered[%d] = %s, want %s", i, p.ID, want[i])
		}
	}
}
