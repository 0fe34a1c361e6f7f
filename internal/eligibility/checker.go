// Package eligibility decides whether a candidate participant may join a
// session under its join policy. Decisions are always returned, never raised:
// any failure to verify resolves to a denial with a generic reason.
package eligibility

import (
	"context"
	"strconv"
	"strings"

	"github.com/coinjam/service_layer/internal/session"
	"github.com/coinjam/service_layer/internal/social"
	"github.com/coinjam/service_layer/pkg/logger"
)

// Participant identifiers carry a namespace prefix: social identities are
// "fid:<number>", wallet-only identities are "wallet:<address>".
const (
	socialPrefix = "fid:"
	walletPrefix = "wallet:"
)

// Decision is the outcome of an eligibility check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Checker evaluates join policies against the social graph.
type Checker struct {
	graph social.GraphService
	log   *logger.Logger
}

// NewChecker constructs a checker.
func NewChecker(graph social.GraphService, log *logger.Logger) *Checker {
	if log == nil {
		log = logger.NewDefault("eligibility")
	}
	return &Checker{graph: graph, log: log}
}

// CanJoin decides whether candidateID may join the session. Relationship
// policies fail closed: unverifiable identities and graph service failures
// both deny.
func (c *Checker) CanJoin(ctx context.Context, candidateID string, sess *session.Session) Decision {
	if sess.JoinPolicy == session.PolicyOpen && sess.MinReputationScore == 0 {
		return Decision{Allowed: true}
	}

	candidateFID, ok := socialID(candidateID)
	if !ok {
		return Decision{Reason: "joining this session requires a social identity"}
	}

	if sess.MinReputationScore > 0 {
		user, err := c.graph.GetUser(ctx, candidateFID)
		if err != nil {
			c.log.WithError(err).WithField("candidate", candidateID).Warn("reputation lookup failed")
			return Decision{Reason: "could not verify eligibility"}
		}
		if user.ReputationScore < sess.MinReputationScore {
			return Decision{Reason: "reputation score below the session minimum"}
		}
	}

	if sess.JoinPolicy == session.PolicyOpen {
		return Decision{Allowed: true}
	}

	creatorFID, ok := socialID(sess.CreatorID)
	if !ok {
		// The relationship cannot be verified against a wallet-only creator.
		return Decision{Reason: "session creator has no social identity"}
	}

	switch sess.JoinPolicy {
	case session.PolicyRequiresFollowerOf:
		return c.requireFollows(ctx, candidateFID, creatorFID, "you must follow the session creator")
	case session.PolicyRequiresFollowedBy:
		return c.requireFollower(ctx, candidateFID, creatorFID, "the session creator must follow you")
	case session.PolicyRequiresMutual:
		d := c.requireFollows(ctx, candidateFID, creatorFID, "you and the creator must follow each other")
		if !d.Allowed {
			return d
		}
		return c.requireFollower(ctx, candidateFID, creatorFID, "you and the creator must follow each other")
	default:
		c.log.WithField("policy", sess.JoinPolicy).Warn("unknown join policy")
		return Decision{Reason: "could not verify eligibility"}
	}
}

// requireFollows checks that follower follows followee.
func (c *Checker) requireFollows(ctx context.Context, follower, followee int64, denial string) Decision {
	following, err := c.graph.GetFollowing(ctx, follower)
	if err != nil {
		c.log.WithError(err).
			WithField("follower", follower).
			WithField("followee", followee).
			Warn("social graph query failed")
		return Decision{Reason: "could not verify eligibility"}
	}
	for _, u := range following {
		if u.ID == followee {
			return Decision{Allowed: true}
		}
	}
	return Decision{Reason: denial}
}

// requireFollower checks that follower appears in followee's follower set.
// This reads the candidate's side of the edge, which is the cheaper scan when
// the creator follows far more accounts than follow the candidate.
func (c *Checker) requireFollower(ctx context.Context, followee, follower int64, denial string) Decision {
	followers, err := c.graph.GetFollowers(ctx, followee)
	if err != nil {
		c.log.WithError(err).
			WithField("followee", followee).
			WithField("follower", follower).
			Warn("social graph query failed")
		return Decision{Reason: "could not verify eligibility"}
	}
	for _, u := range followers {
		if u.ID == follower {
			return Decision{Allowed: true}
		}
	}
	return Decision{Reason: denial}
}

// socialID extracts the platform-native numeric identity from a prefixed
// participant id, reporting false for wallet-only identities.
func socialID(id string) (int64, bool) {
	if !strings.HasPrefix(id, socialPrefix) {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(id, socialPrefix), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// IsWalletIdentity reports whether id is a wallet-only identity.
func IsWalletIdentity(id string) bool {
	return strings.HasPrefix(id, walletPrefix)
}
