// services/social_service_client.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// SocialServiceClient asks the social graph service whether two users are
// friends. It satisfies FriendChecker.
type SocialServiceClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type friendshipResponse struct {
	Friends bool `json:"friends"`
}

func NewSocialServiceClient(baseURL, token string) *SocialServiceClient {
	return &SocialServiceClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// AreFriends calls GET /api/v1/friends/check on the social service.
func (c *SocialServiceClient) AreFriends(ctx context.Context, userA, userB string) (bool, error) {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return false, fmt.Errorf("invalid social service URL '%s': %w", c.BaseURL, err)
	}
	u := base.JoinPath("/api/v1/friends/check")
	q := u.Query()
	q.Set("user_a", userA)
	q.Set("user_b", userB)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		log.Printf("SocialService /friends/check returned %d: %s", resp.StatusCode, string(body))
		return false, fmt.Errorf("friendship check failed: %d", resp.StatusCode)
	}

	var out friendshipResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return false, err
	}
	return out.Friends, nil
}
