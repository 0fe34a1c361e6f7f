// Package social provides the social graph service client used by session
// eligibility checks.
package social

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/coinjam/service_layer/internal/httputil"
)

// User is a social profile as returned by the graph service.
type User struct {
	ID              int64  `json:"id"`
	Username        string `json:"username"`
	ReputationScore int    `json:"reputation_score"`
}

// GraphService exposes the follower/following queries consumed by the
// eligibility checker.
type GraphService interface {
	// GetFollowers returns the complete follower set of the given user.
	GetFollowers(ctx context.Context, userID int64) ([]User, error)
	// GetFollowing returns the complete set of users the given user follows.
	GetFollowing(ctx context.Context, userID int64) ([]User, error)
	// GetUser returns the profile for the given user.
	GetUser(ctx context.Context, userID int64) (User, error)
}

// Client implements GraphService over the graph service HTTP API.
type Client struct {
	http *httputil.Client
}

// Config configures the client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewClient creates a graph service client.
func NewClient(cfg Config) *Client {
	return &Client{
		http: httputil.NewClient(httputil.ClientConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		}),
	}
}

// pageSize is the per-request page size; pagination is drained fully before
// returning.
const pageSize = 100

type userPage struct {
	Users      []User `json:"users"`
	NextCursor string `json:"next_cursor"`
}

// GetFollowers returns all followers of userID, draining pagination.
func (c *Client) GetFollowers(ctx context.Context, userID int64) ([]User, error) {
	return c.drain(ctx, "/v1/followers", userID)
}

// GetFollowing returns all users userID follows, draining pagination.
func (c *Client) GetFollowing(ctx context.Context, userID int64) ([]User, error) {
	return c.drain(ctx, "/v1/following", userID)
}

// GetUser returns the profile for userID.
func (c *Client) GetUser(ctx context.Context, userID int64) (User, error) {
	resp, err := c.http.Get(ctx, "/v1/user?id="+strconv.FormatInt(userID, 10))
	if err != nil {
		return User{}, fmt.Errorf("get user %d: %w", userID, err)
	}

	var user User
	if err := httputil.DecodeResponse(resp, &user); err != nil {
		return User{}, fmt.Errorf("get user %d: %w", userID, err)
	}
	return user, nil
}

func (c *Client) drain(ctx context.Context, path string, userID int64) ([]User, error) {
	var all []User
	cursor := ""
	for {
		q := url.Values{}
		q.Set("id", strconv.FormatInt(userID, 10))
		q.Set("limit", strconv.Itoa(pageSize))
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		resp, err := c.http.Get(ctx, path+"?"+q.Encode())
		if err != nil {
			return nil, fmt.Errorf("fetch %s for %d: %w", path, userID, err)
		}

		var page userPage
		if err := httputil.DecodeResponse(resp, &page); err != nil {
			return nil, fmt.Errorf("fetch %s for %d: %w", path, userID, err)
		}

		all = append(all, page.Users...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}
