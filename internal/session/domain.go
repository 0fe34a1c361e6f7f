// Package session owns the collaborative coin-creation session aggregate and
// its repository semantics: creation, participant joins, status transitions,
// and metadata attachment.
package session

import (
	"sort"
	"time"
)

// Status represents the lifecycle state of a session.
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// JoinPolicy restricts who may join a session relative to its creator.
type JoinPolicy string

const (
	PolicyOpen               JoinPolicy = "open"
	PolicyRequiresFollowerOf JoinPolicy = "requires_follower_of"
	PolicyRequiresFollowedBy JoinPolicy = "requires_followed_by"
	PolicyRequiresMutual     JoinPolicy = "requires_mutual_follow"
)

// Valid reports whether p is a known policy.
func (p JoinPolicy) Valid() bool {
	switch p {
	case PolicyOpen, PolicyRequiresFollowerOf, PolicyRequiresFollowedBy, PolicyRequiresMutual:
		return true
	}
	return false
}

// Participant is one contributor to a session's fused prompt. Participants are
// immutable after creation and are never individually removed.
type Participant struct {
	ID            string    `json:"id"`
	DisplayName   string    `json:"display_name,omitempty"`
	WalletAddress string    `json:"wallet_address,omitempty"` // empty excludes from distribution
	AvatarURI     string    `json:"avatar_uri,omitempty"`
	PromptText    string    `json:"prompt_text"`
	JoinIndex     int       `json:"join_index"` // 0 = creator or first joiner
	JoinedAt      time.Time `json:"joined_at"`
}

// GeneratedMetadata holds the AI-generated coin metadata and, after a
// successful deployment, the on-chain references.
type GeneratedMetadata struct {
	Name               string `json:"name"`
	Symbol             string `json:"symbol"`
	Description        string `json:"description"`
	ImageContentURI    string `json:"image_content_uri"`
	MetadataContentURI string `json:"metadata_content_uri"`

	DeployedAssetAddress string `json:"deployed_asset_address,omitempty"`
	DeploymentTxHash     string `json:"deployment_tx_hash,omitempty"`
	DeploymentReceipt    string `json:"deployment_receipt,omitempty"`
}

// Session is one collaborative coin-creation round, bounded by a fixed
// participant capacity. The session exclusively owns its participants and its
// generated metadata.
type Session struct {
	ID              string                 `json:"id"`
	CreatorID       string                 `json:"creator_id"`
	CreatedAt       time.Time              `json:"created_at"`
	MaxParticipants int                    `json:"max_participants"`
	Participants    map[string]Participant `json:"participants"`
	Status          Status                 `json:"status"`
	Metadata        *GeneratedMetadata     `json:"metadata,omitempty"`

	JoinPolicy          JoinPolicy `json:"join_policy"`
	MinReputationScore  int        `json:"min_reputation_score,omitempty"`
	StylePreference     string     `json:"style_preference,omitempty"`
	IncludeAvatarsInArt bool       `json:"include_avatars_in_art"`

	// Version counts persisted writes. The store is last-write-wins; the
	// version makes lost updates observable across processes.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ParticipantCount returns the number of joined participants.
func (s *Session) ParticipantCount() int {
	return len(s.Participants)
}

// IsFull reports whether the session has reached capacity.
func (s *Session) IsFull() bool {
	return len(s.Participants) >= s.MaxParticipants
}

// HasParticipant reports whether the given id has already joined.
func (s *Session) HasParticipant(id string) bool {
	_, ok := s.Participants[id]
	return ok
}

// OrderedParticipants returns participants in join order, creator first. Map
// iteration order is not durable across the store boundary, so ordering is
// reconstructed from the explicit join index.
func (s *Session) OrderedParticipants() []Participant {
	out := make([]Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinIndex < out[j].JoinIndex })
	return out
}
