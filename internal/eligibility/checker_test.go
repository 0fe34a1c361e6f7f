package eligibility

import (
	"context"
	"errors"
	"testing"

	"github.com/coinjam/service_layer/internal/session"
)

func sessionWith(policy session.JoinPolicy, creatorID string) *session.Session {
	return &session.Session{
		ID:         "s1",
		CreatorID:  creatorID,
		JoinPolicy: policy,
	}
}

func TestChecker_OpenPolicy(t *testing.T) {
	checker := NewChecker(NewMockGraphService(), nil)

	d := checker.CanJoin(context.Background(), "wallet:0xabc", sessionWith(session.PolicyOpen, "fid:1"))
	if !d.Allowed {
		t.Errorf("open policy should always allow, got denial: %s", d.Reason)
	}
}

func TestChecker_OpenPolicySkipsGraph(t *testing.T) {
	graph := NewMockGraphService()
	graph.Err = errors.New("graph down")
	checker := NewChecker(graph, nil)

	d := checker.CanJoin(context.Background(), "fid:2", sessionWith(session.PolicyOpen, "fid:1"))
	if !d.Allowed {
		t.Errorf("open policy must not consult the graph, got denial: %s", d.Reason)
	}
	if graph.Calls != 0 {
		t.Errorf("expected no graph calls, got %d", graph.Calls)
	}
}

func TestChecker_RequiresFollowerOf(t *testing.T) {
	ctx := context.Background()
	graph := NewMockGraphService()
	graph.Follow(2, 1) // candidate 2 follows creator 1
	checker := NewChecker(graph, nil)

	sess := sessionWith(session.PolicyRequiresFollowerOf, "fid:1")

	if d := checker.CanJoin(ctx, "fid:2", sess); !d.Allowed {
		t.Errorf("follower should be allowed, got: %s", d.Reason)
	}
	if d := checker.CanJoin(ctx, "fid:3", sess); d.Allowed {
		t.Error("non-follower should be denied")
	}
}

func TestChecker_RequiresFollowedBy(t *testing.T) {
	ctx := context.Background()
	graph := NewMockGraphService()
	graph.Follow(1, 2) // creator 1 follows candidate 2
	checker := NewChecker(graph, nil)

	sess := sessionWith(session.PolicyRequiresFollowedBy, "fid:1")

	if d := checker.CanJoin(ctx, "fid:2", sess); !d.Allowed {
		t.Errorf("followed candidate should be allowed, got: %s", d.Reason)
	}
	if graph.FollowerCalls != 1 {
		t.Errorf("expected the candidate's follower set to be consulted once, got %d calls", graph.FollowerCalls)
	}
	if d := checker.CanJoin(ctx, "fid:3", sess); d.Allowed {
		t.Error("unfollowed candidate should be denied")
	}
}

func TestChecker_RequiresMutual(t *testing.T) {
	ctx := context.Background()
	graph := NewMockGraphService()
	graph.Follow(2, 1)
	graph.Follow(1, 2)
	graph.Follow(3, 1) // one-way only
	checker := NewChecker(graph, nil)

	sess := sessionWith(session.PolicyRequiresMutual, "fid:1")

	if d := checker.CanJoin(ctx, "fid:2", sess); !d.Allowed {
		t.Errorf("mutual follow should be allowed, got: %s", d.Reason)
	}
	if d := checker.CanJoin(ctx, "fid:3", sess); d.Allowed {
		t.Error("one-way follow should be denied under mutual policy")
	}
}

func TestChecker_FailsClosed(t *testing.T) {
	ctx := context.Background()

	t.Run("GraphError", func(t *testing.T) {
		graph := NewMockGraphService()
		graph.Err = errors.New("upstream timeout")
		checker := NewChecker(graph, nil)

		d := checker.CanJoin(ctx, "fid:2", sessionWith(session.PolicyRequiresFollowerOf, "fid:1"))
		if d.Allowed {
			t.Error("graph errors must deny")
		}
		if d.Reason == "" {
			t.Error("denial must carry a reason")
		}
	})

	t.Run("WalletOnlyCandidate", func(t *testing.T) {
		checker := NewChecker(NewMockGraphService(), nil)
		d := checker.CanJoin(ctx, "wallet:0xabc", sessionWith(session.PolicyRequiresFollowerOf, "fid:1"))
		if d.Allowed {
			t.Error("wallet-only candidate cannot satisfy a relationship policy")
		}
	})

	t.Run("WalletOnlyCreator", func(t *testing.T) {
		checker := NewChecker(NewMockGraphService(), nil)
		d := checker.CanJoin(ctx, "fid:2", sessionWith(session.PolicyRequiresFollowerOf, "wallet:0xdef"))
		if d.Allowed {
			t.Error("wallet-only creator cannot be verified against")
		}
	})

	t.Run("MalformedSocialID", func(t *testing.T) {
		checker := NewChecker(NewMockGraphService(), nil)
		d := checker.CanJoin(ctx, "fid:not-a-number", sessionWith(session.PolicyRequiresFollowerOf, "fid:1"))
		if d.Allowed {
			t.Error("malformed social id must deny")
		}
	})
}

func TestChecker_MinReputation(t *testing.T) {
	ctx := context.Background()
	graph := NewMockGraphService()
	graph.Scores[2] = 80
	graph.Scores[3] = 20
	checker := NewChecker(graph, nil)

	sess := sessionWith(session.PolicyOpen, "fid:1")
	sess.MinReputationScore = 50

	if d := checker.CanJoin(ctx, "fid:2", sess); !d.Allowed {
		t.Errorf("score 80 >= 50 should be allowed, got: %s", d.Reason)
	}
	if d := checker.CanJoin(ctx, "fid:3", sess); d.Allowed {
		t.Error("score 20 < 50 should be denied")
	}
	if d := checker.CanJoin(ctx, "wallet:0xabc", sess); d.Allowed {
		t.Error("wallet-only identity cannot satisfy a reputation floor")
	}
}
