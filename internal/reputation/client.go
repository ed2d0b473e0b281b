package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"faucet/internal/config"
	faucetErrors "faucet/internal/errors"

	"github.com/sirupsen/logrus"
)

const component = "reputation"

// Profile 社交账号的声誉信息
type Profile struct {
	ID            string  `json:"id"`
	Handle        string  `json:"handle,omitempty"`
	DisplayName   string  `json:"displayName,omitempty"`
	Score         float64 `json:"score"`
	FollowsTarget bool    `json:"followsTarget"`
}

// MeetsThreshold 分数是否达到要求
func (p *Profile) MeetsThreshold(minScore float64) bool {
	return p.Score >= minScore
}

// Checker 声誉查询接口
type Checker interface {
	Lookup(ctx context.Context, id string) (*Profile, error)
}

// bulkUserResponse 批量用户查询API响应
type bulkUserResponse struct {
	Users []apiUser `json:"users"`
}

type apiUser struct {
	FID          int64   `json:"fid"`
	Username     string  `json:"username"`
	DisplayName  string  `json:"display_name"`
	Score        float64 `json:"score"`
	Experimental *struct {
		UserScore float64 `json:"neynar_user_score"`
	} `json:"experimental,omitempty"`
	ViewerContext *struct {
		Following  bool `json:"following"`
		FollowedBy bool `json:"followed_by"`
	} `json:"viewer_context,omitempty"`
}

// Client 社交声誉API客户端
type Client struct {
	logger *logrus.Logger
	config *config.ReputationConfig
	client *http.Client
}

// NewClient 创建声誉API客户端
func NewClient(logger *logrus.Logger, cfg *config.ReputationConfig) *Client {
	if cfg == nil {
		cfg = config.GetDefaultConfig().Reputation
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
		logger.Warn("声誉API超时时间未配置，使用默认值5s")
	}

	return &Client{
		logger: logger,
		config: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// MinScore 分数阈值
func (c *Client) MinScore() float64 {
	return c.config.MinScore
}

// Lookup 查询社交账号的分数和关注状态
func (c *Client) Lookup(ctx context.Context, id string) (*Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, faucetErrors.ErrMissingSocialID
	}
	if !c.config.Enabled() {
		return nil, faucetErrors.ErrReputationNotConfigured
	}

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/v2/farcaster/user/bulk"
	query := url.Values{}
	query.Set("fids", id)
	if c.config.TargetID != "" {
		query.Set("viewer_fid", c.config.TargetID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, faucetErrors.NewUpstreamError(err, component, "创建声誉API请求失败")
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-api-key", c.config.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, faucetErrors.NewUpstreamError(err, component, "声誉API请求失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(body),
		}).Warn("声誉API返回非200状态")
		return nil, faucetErrors.NewUpstreamError(
			fmt.Errorf("status %d", resp.StatusCode), component, "声誉API返回错误状态")
	}

	var payload bulkUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, faucetErrors.NewUpstreamError(err, component, "解析声誉API响应失败")
	}
	if len(payload.Users) == 0 {
		return nil, faucetErrors.NewUpstreamError(
			fmt.Errorf("user %s not found", id), component, "声誉API未返回用户")
	}

	return c.toProfile(id, &payload.Users[0]), nil
}

func (c *Client) toProfile(id string, user *apiUser) *Profile {
	profile := &Profile{
		ID:          id,
		Handle:      user.Username,
		DisplayName: user.DisplayName,
		Score:       user.Score,
	}
	if profile.Score == 0 && user.Experimental != nil {
		profile.Score = user.Experimental.UserScore
	}

	// 未配置关注目标时不做关注要求
	if c.config.TargetID == "" {
		profile.FollowsTarget = true
	} else if user.ViewerContext != nil {
		profile.FollowsTarget = user.ViewerContext.FollowedBy
	}

	c.logger.WithFields(logrus.Fields{
		"social_id":      id,
		"score":          profile.Score,
		"follows_target": profile.FollowsTarget,
	}).Debug("声誉查询完成")

	return profile
}
