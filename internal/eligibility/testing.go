package eligibility

import (
	"context"
	"errors"

	"github.com/coinjam/service_layer/internal/social"
)

// MockGraphService provides a canned social graph for testing.
type MockGraphService struct {
	// Following maps a user id to the ids they follow.
	Following map[int64][]int64
	// Scores maps a user id to their reputation score.
	Scores map[int64]int
	// Err, when set, is returned by every call.
	Err error

	Calls int
	// FollowerCalls counts GetFollowers calls specifically.
	FollowerCalls int
}

// NewMockGraphService creates an empty mock graph.
func NewMockGraphService() *MockGraphService {
	return &MockGraphService{
		Following: make(map[int64][]int64),
		Scores:    make(map[int64]int),
	}
}

// Follow records that follower follows followee.
func (m *MockGraphService) Follow(follower, followee int64) {
	m.Following[follower] = append(m.Following[follower], followee)
}

func (m *MockGraphService) GetFollowers(ctx context.Context, userID int64) ([]social.User, error) {
	m.Calls++
	m.FollowerCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	var out []social.User
	for follower, following := range m.Following {
		for _, id := range following {
			if id == userID {
				out = append(out, social.User{ID: follower})
			}
		}
	}
	return out, nil
}

func (m *MockGraphService) GetFollowing(ctx context.Context, userID int64) ([]social.User, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	var out []social.User
	for _, id := range m.Following[userID] {
		out = append(out, social.User{ID: id})
	}
	return out, nil
}

func (m *MockGraphService) GetUser(ctx context.Context, userID int64) (social.User, error) {
	m.Calls++
	if m.Err != nil {
		return social.User{}, m.Err
	}
	score, ok := m.Scores[userID]
	if !ok {
		return social.User{}, errors.New("user not found")
	}
	return social.User{ID: userID, ReputationScore: score}, nil
}
